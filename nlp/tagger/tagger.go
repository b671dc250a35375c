// Package tagger composes a shared context encoder with one independent
// classifier per grammatical property and drives the joint
// forward/backward computation.
package tagger

import (
	"fmt"
	"math/rand"

	"gramtag/alg/nn"
	"gramtag/nlp/types"

	"github.com/pkg/errors"
)

// Tagger predicts every registry property for each token of a sentence.
type Tagger struct {
	Registry *types.Registry
	Encoder  ContextEncoder
	Heads    []*PropertyHead
}

// NewTagger builds fresh heads sized to the encoder's output dimension.
func NewTagger(registry *types.Registry, encoder ContextEncoder, headHidden int, rng *rand.Rand) *Tagger {
	heads := make([]*PropertyHead, 0, registry.Len())
	for _, property := range registry.Properties() {
		heads = append(heads, NewPropertyHead(property, encoder.Dim(), headHidden, rng))
	}
	return &Tagger{Registry: registry, Encoder: encoder, Heads: heads}
}

// NewTaggerWithHeads assembles a tagger from restored components,
// validating the encoder/head dimension agreement before anything runs.
func NewTaggerWithHeads(registry *types.Registry, encoder ContextEncoder, heads []*PropertyHead) (*Tagger, error) {
	if len(heads) != registry.Len() {
		return nil, errors.Errorf("model has %d heads for %d properties", len(heads), registry.Len())
	}
	for _, head := range heads {
		if head.InputDim() != encoder.Dim() {
			return nil, errors.Errorf("encoder output dimension %d does not match head %q input dimension %d",
				encoder.Dim(), head.Property.Name, head.InputDim())
		}
	}
	return &Tagger{Registry: registry, Encoder: encoder, Heads: heads}, nil
}

// Predict runs the forward pass and returns one prediction map per token.
func (t *Tagger) Predict(tokens []string) ([]types.PropertyPredictions, error) {
	return t.predict(tokens, nil)
}

// PredictConstrained restricts each head's choice to values licensed by some
// candidate morphology of the token (the no-value class stays admissible).
func (t *Tagger) PredictConstrained(tokens []string, analyses []types.Morphologies) ([]types.PropertyPredictions, error) {
	return t.predict(tokens, analyses)
}

func (t *Tagger) predict(tokens []string, analyses []types.Morphologies) ([]types.PropertyPredictions, error) {
	encoded, err := t.Encoder.Encode(tokens)
	if err != nil {
		return nil, err
	}
	predictions := make([]types.PropertyPredictions, len(tokens))
	for i := range predictions {
		predictions[i] = make(types.PropertyPredictions, len(t.Heads))
	}
	for _, head := range t.Heads {
		probs := head.Forward(encoded)
		for i := 0; i < len(tokens); i++ {
			if analyses == nil {
				predictions[i][head.Property.Name] = head.Predict(probs.Row(i))
				continue
			}
			allowed := admissibleClasses(head.Property, analyses[i])
			predictions[i][head.Property.Name] = head.PredictAllowed(probs.Row(i), allowed)
		}
	}
	if len(predictions) != len(tokens) {
		panic(fmt.Sprintf("tagger produced %d prediction maps for %d tokens", len(predictions), len(tokens)))
	}
	return predictions, nil
}

// admissibleClasses collects the class indices licensed by the candidate
// morphologies for one property.
func admissibleClasses(property *types.Property, candidates types.Morphologies) map[int]bool {
	allowed := make(map[int]bool)
	for _, morphology := range candidates {
		for _, component := range morphology.Components {
			if value, exists := component.Properties[property.Name]; exists {
				if index, known := property.Values.IndexOf(value); known {
					allowed[index] = true
				}
			}
		}
	}
	return allowed
}

// Learn runs one training example forward and backward: per-head
// cross-entropy losses and logit gradients, independent head backward
// passes, gradient merging, and encoder propagation. Returns the summed
// loss across heads and tokens.
func (t *Tagger) Learn(sentence *types.Sentence) (float64, error) {
	tokens := sentence.Forms()
	encoded, err := t.Encoder.Encode(tokens)
	if err != nil {
		return 0.0, err
	}

	var totalLoss float64
	inputGrads := make([]*nn.Tensor, len(t.Heads))
	for hi, head := range t.Heads {
		head.Forward(encoded)
		gold := make([]int, len(sentence.Tokens))
		for i, token := range sentence.Tokens {
			gold[i] = head.Property.GoldIndex(token.Gold[head.Property.Name])
		}
		loss, gradLogits := head.Loss(gold)
		totalLoss += loss
		inputGrads[hi] = head.Backward(gradLogits)
	}

	t.Encoder.Propagate(MergeHeadGradients(inputGrads))
	return totalLoss, nil
}

// Parameters is the trainable set: all head parameters plus whatever the
// encoder exposes (nothing, for a frozen transformer).
func (t *Tagger) Parameters() []*nn.Tensor {
	var params []*nn.Tensor
	for _, head := range t.Heads {
		params = append(params, head.Parameters()...)
	}
	return append(params, t.Encoder.Parameters()...)
}
