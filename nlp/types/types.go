package types

// MorphologyComponent is one sub-lemma of a candidate analysis with its
// grammatical property assignments.
type MorphologyComponent struct {
	Lemma      string            `json:"lemma"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Morphology is one candidate reading of a token. Multi-component
// morphologies encode multi-word lemma splits (e.g. contracted forms).
type Morphology struct {
	Components []MorphologyComponent `json:"components"`
}

type Morphologies []Morphology

// Token is one surface token of a sentence. Gold holds training-time
// property assignments extracted from the best candidate morphology; a
// missing key means the property does not apply.
type Token struct {
	Form         string            `json:"form"`
	Start        int               `json:"start,omitempty"`
	End          int               `json:"end,omitempty"`
	Lemma        string            `json:"lemma,omitempty"`
	Gold         map[string]string `json:"gold,omitempty"`
	Morphologies Morphologies      `json:"morphologies,omitempty"`
}

// Sentence is an ordered token sequence. Loaded examples are held immutably
// for the duration of an epoch.
type Sentence struct {
	Tokens []Token `json:"tokens"`
}

func (s *Sentence) Forms() []string {
	forms := make([]string, len(s.Tokens))
	for i, token := range s.Tokens {
		forms[i] = token.Form
	}
	return forms
}

// Prediction is the outcome of one property classifier for one token. Value
// is empty when the reserved no-value class wins. Distribution holds the
// full class probabilities, the reserved class last.
type Prediction struct {
	Property     string    `json:"property"`
	Value        string    `json:"value,omitempty"`
	Distribution []float64 `json:"distribution,omitempty"`
}

// PropertyPredictions maps property name to the prediction for one token.
type PropertyPredictions map[string]Prediction
