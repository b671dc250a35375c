package tagger

import (
	"math"
	"math/rand"

	"gramtag/alg/nn"
	"gramtag/nlp/types"
)

// PropertyHead is a two-layer feed-forward classifier for one grammatical
// property: hidden linear + tanh, output linear + softmax over
// |values|+1 classes, the reserved last class encoding "no value".
type PropertyHead struct {
	Property *types.Property

	W1, B1 *nn.Tensor // (inputDim, hiddenDim), (hiddenDim)
	W2, B2 *nn.Tensor // (hiddenDim, classes), (classes)

	cache *headCache
}

type headCache struct {
	input, hidden, probs *nn.Tensor
}

func NewPropertyHead(property *types.Property, inputDim, hiddenDim int, rng *rand.Rand) *PropertyHead {
	return &PropertyHead{
		Property: property,
		W1:       nn.NewTensorRand(rng, 1.0/math.Sqrt(float64(inputDim)), inputDim, hiddenDim),
		B1:       nn.NewTensor(hiddenDim),
		W2:       nn.NewTensorRand(rng, 1.0/math.Sqrt(float64(hiddenDim)), hiddenDim, property.ClassCount()),
		B2:       nn.NewTensor(property.ClassCount()),
	}
}

func (h *PropertyHead) InputDim() int {
	return h.W1.Dims[0]
}

// Forward maps per-token context vectors (tokens, inputDim) to class
// probabilities (tokens, classes), caching intermediates for Backward.
func (h *PropertyHead) Forward(x *nn.Tensor) *nn.Tensor {
	hidden := nn.Tanh(nn.AddBias(nn.MatMul(x, h.W1), h.B1))
	logits := nn.AddBias(nn.MatMul(hidden, h.W2), h.B2)
	probs := nn.Softmax(logits)
	h.cache = &headCache{input: x, hidden: hidden, probs: probs}
	return probs
}

// Loss computes the summed cross-entropy over tokens against gold class
// indices, plus the gradient at the logit level (probs - onehot).
func (h *PropertyHead) Loss(goldIndices []int) (float64, *nn.Tensor) {
	probs := h.cache.probs
	gradLogits := nn.NewTensor(probs.Dims...)
	var loss float64
	for i, gold := range goldIndices {
		row := probs.Row(i)
		loss += nn.CrossEntropy(row, gold)
		copy(gradLogits.Row(i), nn.CrossEntropyGrad(row, gold))
	}
	return loss, gradLogits
}

// Backward accumulates this head's parameter gradients from the logit-level
// gradient and returns the gradient with respect to the head's input.
func (h *PropertyHead) Backward(gradLogits *nn.Tensor) *nn.Tensor {
	cache := h.cache
	h.cache = nil

	gradHidden, gradW2 := nn.MatMulBackward(cache.hidden, h.W2, gradLogits)
	h.W2.AccumulateGrad(gradW2)
	h.B2.AccumulateGrad(nn.AddBiasBackward(gradLogits))

	gradPre := nn.TanhBackward(cache.hidden, gradHidden)

	gradInput, gradW1 := nn.MatMulBackward(cache.input, h.W1, gradPre)
	h.W1.AccumulateGrad(gradW1)
	h.B1.AccumulateGrad(nn.AddBiasBackward(gradPre))

	return gradInput
}

// Predict maps one probability row to a Prediction: argmax class mapped back
// through the property's value set, or "no value" for the reserved class.
func (h *PropertyHead) Predict(row []float64) types.Prediction {
	distribution := make([]float64, len(row))
	copy(distribution, row)
	return types.Prediction{
		Property:     h.Property.Name,
		Value:        h.Property.ValueAt(nn.Argmax(row)),
		Distribution: distribution,
	}
}

// PredictAllowed is Predict restricted to an admissible class set; the
// reserved no-value class is always admissible.
func (h *PropertyHead) PredictAllowed(row []float64, allowed map[int]bool) types.Prediction {
	noValue := h.Property.NoValueIndex()
	best := noValue
	for class := range row {
		if class != noValue && !allowed[class] {
			continue
		}
		if row[class] > row[best] {
			best = class
		}
	}
	distribution := make([]float64, len(row))
	copy(distribution, row)
	return types.Prediction{
		Property:     h.Property.Name,
		Value:        h.Property.ValueAt(best),
		Distribution: distribution,
	}
}

func (h *PropertyHead) Parameters() []*nn.Tensor {
	return []*nn.Tensor{h.W1, h.B1, h.W2, h.B2}
}

// MergeHeadGradients folds per-head input gradients into a single gradient
// for the shared encoder: elementwise sum divided by the head count.
func MergeHeadGradients(grads []*nn.Tensor) *nn.Tensor {
	if len(grads) == 0 {
		panic("merge: no head gradients")
	}
	merged := nn.NewTensor(grads[0].Dims...)
	for _, grad := range grads {
		merged = nn.Add(merged, grad)
	}
	return nn.Scale(merged, 1.0/float64(len(grads)))
}
