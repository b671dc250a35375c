// Package jsonl reads and writes line-delimited JSON datasets: one sentence
// object per line, each with a list of tokens carrying candidate
// morphological analyses.
package jsonl

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"gramtag/nlp/types"

	"github.com/pkg/errors"
)

// DefaultLemmaSeparator joins split sub-lemmas of a multi-component
// morphology when recomputing character positions. It is an assumption of
// the data preparation pipeline, so it stays configurable.
const DefaultLemmaSeparator = " "

type Option func(*reader)

func WithLemmaSeparator(sep string) Option {
	return func(r *reader) {
		r.lemmaSeparator = sep
	}
}

// WithLimit caps the number of sentences read; 0 means no limit.
func WithLimit(limit int) Option {
	return func(r *reader) {
		r.limit = limit
	}
}

type reader struct {
	lemmaSeparator string
	limit          int
}

// Read loads sentences from line-delimited JSON. A malformed line aborts
// loading with an error carrying the 1-based line index.
func Read(r io.Reader, options ...Option) ([]types.Sentence, error) {
	rd := &reader{lemmaSeparator: DefaultLemmaSeparator}
	for _, option := range options {
		option(rd)
	}

	var sentences []types.Sentence
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if len(text) == 0 {
			continue
		}
		var sentence types.Sentence
		if err := json.Unmarshal([]byte(text), &sentence); err != nil {
			return nil, errors.Wrapf(err, "invalid example at line %d", line)
		}
		if len(sentence.Tokens) == 0 {
			return nil, errors.Errorf("invalid example at line %d: no tokens", line)
		}
		extractGold(&sentence, rd.lemmaSeparator)
		sentences = append(sentences, sentence)
		if rd.limit > 0 && len(sentences) >= rd.limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading dataset at line %d", line)
	}
	return sentences, nil
}

func ReadFile(filename string, options ...Option) ([]types.Sentence, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "opening dataset %s", filename)
	}
	defer file.Close()
	sentences, err := Read(file, options...)
	if err != nil {
		return nil, errors.Wrapf(err, "loading dataset %s", filename)
	}
	return sentences, nil
}

// extractGold fills each token's gold lemma and property map from its best
// (first) candidate morphology. Tokens with no candidates keep empty gold:
// every property then maps to the reserved no-value class.
func extractGold(sentence *types.Sentence, lemmaSeparator string) {
	for i := range sentence.Tokens {
		token := &sentence.Tokens[i]
		if token.Gold != nil || len(token.Morphologies) == 0 {
			continue
		}
		best := token.Morphologies[0]
		if len(best.Components) == 0 {
			continue
		}
		lemmas := make([]string, len(best.Components))
		gold := make(map[string]string)
		for c, component := range best.Components {
			lemmas[c] = component.Lemma
			for property, value := range component.Properties {
				if _, exists := gold[property]; !exists {
					gold[property] = value
				}
			}
		}
		token.Lemma = strings.Join(lemmas, lemmaSeparator)
		token.Gold = gold
	}
}

// Span is a character position range.
type Span struct {
	Start, End int
}

// ComponentSpans recomputes the character span of each component of a
// multi-component morphology, assuming sub-lemma forms are separated by
// lemmaSeparator starting at the token's own start position.
func ComponentSpans(token *types.Token, morphology types.Morphology, lemmaSeparator string) []Span {
	spans := make([]Span, len(morphology.Components))
	position := token.Start
	sepLen := utf8.RuneCountInString(lemmaSeparator)
	for i, component := range morphology.Components {
		length := utf8.RuneCountInString(component.Lemma)
		spans[i] = Span{Start: position, End: position + length}
		position += length + sepLen
	}
	return spans
}

// Write emits one JSON object per line.
func Write(w io.Writer, sentences []types.Sentence) error {
	encoder := json.NewEncoder(w)
	for i := range sentences {
		if err := encoder.Encode(&sentences[i]); err != nil {
			return errors.Wrapf(err, "writing sentence %d", i)
		}
	}
	return nil
}

// TaggedSentence pairs a sentence with its per-token predictions for output.
type TaggedSentence struct {
	Tokens      []types.Token               `json:"tokens"`
	Predictions []types.PropertyPredictions `json:"predictions"`
}

func WriteTagged(w io.Writer, tagged []TaggedSentence) error {
	encoder := json.NewEncoder(w)
	for i := range tagged {
		if err := encoder.Encode(&tagged[i]); err != nil {
			return errors.Wrapf(err, "writing tagged sentence %d", i)
		}
	}
	return nil
}

func WriteTaggedFile(filename string, tagged []TaggedSentence) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "creating output %s", filename)
	}
	defer file.Close()
	return WriteTagged(file, tagged)
}
