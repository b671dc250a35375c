package tagger

import (
	"math"
	"math/rand"
	"testing"

	"gramtag/alg/nn"
	"gramtag/nlp/types"
)

func testProperty(t *testing.T) *types.Property {
	t.Helper()
	registry, err := types.NewRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	tense, _ := registry.Get("tense")
	return tense
}

func TestHeadForwardShape(t *testing.T) {
	property := testProperty(t)
	rng := rand.New(rand.NewSource(1))
	head := NewPropertyHead(property, 6, 8, rng)
	if head.InputDim() != 6 {
		t.Errorf("Expected input dim 6, got %d", head.InputDim())
	}

	x := nn.NewTensorRand(rng, 1.0, 3, 6)
	probs := head.Forward(x)
	if probs.Rows() != 3 || probs.Cols() != property.ClassCount() {
		t.Fatalf("Expected (3,%d) probabilities, got %v", property.ClassCount(), probs.Dims)
	}
	for i := 0; i < 3; i++ {
		sum := 0.0
		for j := 0; j < probs.Cols(); j++ {
			sum += probs.At(i, j)
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("Row %d sums to %v", i, sum)
		}
	}
}

func TestHeadLossAndGradients(t *testing.T) {
	property := testProperty(t)
	rng := rand.New(rand.NewSource(2))
	head := NewPropertyHead(property, 4, 5, rng)
	x := nn.NewTensorRand(rng, 1.0, 2, 4)
	gold := []int{1, property.NoValueIndex()}

	head.Forward(x)
	loss, gradLogits := head.Loss(gold)
	if loss <= 0.0 {
		t.Errorf("Expected positive loss, got %v", loss)
	}
	gradInput := head.Backward(gradLogits)
	if gradInput.Rows() != 2 || gradInput.Cols() != 4 {
		t.Errorf("Expected (2,4) input gradient, got %v", gradInput.Dims)
	}

	// Finite-difference check on all head parameters.
	params := head.Parameters()
	analytic := make([][]float64, len(params))
	for pi, param := range params {
		analytic[pi] = make([]float64, len(param.Grad))
		copy(analytic[pi], param.Grad)
	}
	lossAt := func() float64 {
		head.Forward(x)
		value, _ := head.Loss(gold)
		return value
	}
	for pi, param := range params {
		for i := range param.Data {
			numeric := numericGrad(param, i, lossAt)
			if math.Abs(analytic[pi][i]-numeric) > fdTolerance {
				t.Errorf("param %d entry %d: analytic %v, numeric %v", pi, i, analytic[pi][i], numeric)
			}
		}
	}
}

func TestHeadPredict(t *testing.T) {
	property := testProperty(t)
	classes := property.ClassCount()

	row := make([]float64, classes)
	row[1] = 0.9
	rng := rand.New(rand.NewSource(3))
	head := NewPropertyHead(property, 2, 2, rng)

	prediction := head.Predict(row)
	if prediction.Property != "tense" {
		t.Errorf("Expected property tense, got %s", prediction.Property)
	}
	if prediction.Value != property.ValueAt(1) {
		t.Errorf("Expected %s, got %s", property.ValueAt(1), prediction.Value)
	}
	if len(prediction.Distribution) != classes {
		t.Errorf("Expected %d distribution entries, got %d", classes, len(prediction.Distribution))
	}

	// The reserved class predicts the empty value.
	row = make([]float64, classes)
	row[property.NoValueIndex()] = 0.9
	if prediction := head.Predict(row); prediction.Value != "" {
		t.Errorf("Expected empty value for reserved class, got %s", prediction.Value)
	}
}

func TestHeadPredictAllowed(t *testing.T) {
	property := testProperty(t)
	classes := property.ClassCount()
	rng := rand.New(rand.NewSource(4))
	head := NewPropertyHead(property, 2, 2, rng)

	row := make([]float64, classes)
	row[0] = 0.8 // best overall, but not licensed
	row[2] = 0.1
	row[property.NoValueIndex()] = 0.05

	prediction := head.PredictAllowed(row, map[int]bool{2: true})
	if prediction.Value != property.ValueAt(2) {
		t.Errorf("Expected licensed value %s, got %s", property.ValueAt(2), prediction.Value)
	}

	// With nothing licensed, only the reserved class is admissible.
	prediction = head.PredictAllowed(row, map[int]bool{})
	if prediction.Value != "" {
		t.Errorf("Expected empty value, got %s", prediction.Value)
	}
}

func TestMergeHeadGradients(t *testing.T) {
	a := nn.NewTensor(2, 3)
	b := nn.NewTensor(2, 3)
	for i := range a.Data {
		a.Data[i] = 1.0
		b.Data[i] = 3.0
	}
	merged := MergeHeadGradients([]*nn.Tensor{a, b})
	for i := range merged.Data {
		if math.Abs(merged.Data[i]-2.0) > 1e-9 {
			t.Errorf("Expected 2.0 at %d, got %v", i, merged.Data[i])
		}
	}

	// Merging N copies of the same gradient reproduces it.
	same := MergeHeadGradients([]*nn.Tensor{a, a, a})
	for i := range same.Data {
		if math.Abs(same.Data[i]-a.Data[i]) > 1e-9 {
			t.Errorf("Expected identity at %d, got %v", i, same.Data[i])
		}
	}
}
