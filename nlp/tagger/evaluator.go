package tagger

import (
	"gramtag/eval"
	"gramtag/nlp/types"

	"github.com/pkg/errors"
)

// Evaluator scores predictions against gold labels with one binary
// confusion result per property:
//
//   - TP: predicted the correct specific value
//   - FP: predicted a specific value, but gold differs or is absent
//   - FN: gold present, but predicted none or wrong
//   - TN: neither side assigns a value
//
// The overall score is the unweighted mean of per-property F1.
type Evaluator struct {
	Tagger *Tagger

	// Constrained restricts predictions to candidate-licensed values when
	// the examples carry analyses.
	Constrained bool
}

func (e *Evaluator) Evaluate(examples []types.Sentence) (*eval.Total, error) {
	total := eval.NewTotal()
	// Register all properties up front so an unpredicted property still
	// appears in the report.
	for _, property := range e.Tagger.Registry.Properties() {
		total.Result(property.Name)
	}

	for i := range examples {
		example := &examples[i]
		forms := example.Forms()
		var predictions []types.PropertyPredictions
		var err error
		if e.Constrained {
			analyses := make([]types.Morphologies, len(example.Tokens))
			for ti, token := range example.Tokens {
				analyses[ti] = token.Morphologies
			}
			predictions, err = e.Tagger.PredictConstrained(forms, analyses)
		} else {
			predictions, err = e.Tagger.Predict(forms)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "example %d", i+1)
		}

		for ti, token := range example.Tokens {
			for _, property := range e.Tagger.Registry.Properties() {
				predicted := predictions[ti][property.Name].Value
				gold := token.Gold[property.Name]
				e.count(total.Result(property.Name), predicted, gold)
			}
		}
	}
	return total, nil
}

func (e *Evaluator) count(result *eval.Result, predicted, gold string) {
	switch {
	case predicted != "" && predicted == gold:
		result.TP++
	case predicted != "" && gold == "":
		result.FP++
	case predicted != "" && gold != "":
		// Wrong specific value: spurious prediction and missed gold.
		result.FP++
		result.FN++
	case predicted == "" && gold != "":
		result.FN++
	default:
		result.TN++
	}
}
