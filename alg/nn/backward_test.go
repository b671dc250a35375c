package nn

import (
	"math"
	"math/rand"
	"testing"
)

const (
	fdEpsilon   = 1e-6
	fdTolerance = 1e-4
)

// numericGrad estimates d loss / d t.Data[index] by central differences.
func numericGrad(t *Tensor, index int, loss func() float64) float64 {
	saved := t.Data[index]
	t.Data[index] = saved + fdEpsilon
	plus := loss()
	t.Data[index] = saved - fdEpsilon
	minus := loss()
	t.Data[index] = saved
	return (plus - minus) / (2.0 * fdEpsilon)
}

// weightedSum reduces a tensor to a scalar with fixed weights, so the output
// gradient of the reduction is the weight tensor itself.
func weightedSum(x, weights *Tensor) float64 {
	sum := 0.0
	for i := range x.Data {
		sum += x.Data[i] * weights.Data[i]
	}
	return sum
}

func TestMatMulBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := NewTensorRand(rng, 1.0, 3, 4)
	b := NewTensorRand(rng, 1.0, 4, 2)
	weights := NewTensorRand(rng, 1.0, 3, 2)

	gradA, gradB := MatMulBackward(a, b, weights)

	loss := func() float64 { return weightedSum(MatMul(a, b), weights) }
	for i := range a.Data {
		numeric := numericGrad(a, i, loss)
		if math.Abs(gradA.Data[i]-numeric) > fdTolerance {
			t.Errorf("gradA[%d]: analytic %v, numeric %v", i, gradA.Data[i], numeric)
		}
	}
	for i := range b.Data {
		numeric := numericGrad(b, i, loss)
		if math.Abs(gradB.Data[i]-numeric) > fdTolerance {
			t.Errorf("gradB[%d]: analytic %v, numeric %v", i, gradB.Data[i], numeric)
		}
	}
}

func TestTanhBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := NewTensorRand(rng, 1.0, 2, 5)
	weights := NewTensorRand(rng, 1.0, 2, 5)

	y := Tanh(x)
	gradX := TanhBackward(y, weights)

	loss := func() float64 { return weightedSum(Tanh(x), weights) }
	for i := range x.Data {
		numeric := numericGrad(x, i, loss)
		if math.Abs(gradX.Data[i]-numeric) > fdTolerance {
			t.Errorf("gradX[%d]: analytic %v, numeric %v", i, gradX.Data[i], numeric)
		}
	}
}

func TestGELUBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	x := NewTensorRand(rng, 1.5, 2, 6)
	weights := NewTensorRand(rng, 1.0, 2, 6)

	gradX := GELUBackward(x, weights)

	loss := func() float64 { return weightedSum(GELU(x), weights) }
	for i := range x.Data {
		numeric := numericGrad(x, i, loss)
		if math.Abs(gradX.Data[i]-numeric) > fdTolerance {
			t.Errorf("gradX[%d]: analytic %v, numeric %v", i, gradX.Data[i], numeric)
		}
	}
}

func TestSoftmaxBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	x := NewTensorRand(rng, 1.0, 3, 4)
	weights := NewTensorRand(rng, 1.0, 3, 4)

	y := Softmax(x)
	gradX := SoftmaxBackward(y, weights)

	loss := func() float64 { return weightedSum(Softmax(x), weights) }
	for i := range x.Data {
		numeric := numericGrad(x, i, loss)
		if math.Abs(gradX.Data[i]-numeric) > fdTolerance {
			t.Errorf("gradX[%d]: analytic %v, numeric %v", i, gradX.Data[i], numeric)
		}
	}
}

func TestLayerNormBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	x := NewTensorRand(rng, 1.0, 2, 6)
	gamma := NewTensorRand(rng, 0.5, 6)
	for i := range gamma.Data {
		gamma.Data[i] += 1.0
	}
	beta := NewTensorRand(rng, 0.5, 6)
	weights := NewTensorRand(rng, 1.0, 2, 6)
	const epsilon = 1e-5

	gradX, gradGamma, gradBeta := LayerNormBackward(x, gamma, weights, epsilon)

	loss := func() float64 { return weightedSum(LayerNorm(x, gamma, beta, epsilon), weights) }
	for i := range x.Data {
		numeric := numericGrad(x, i, loss)
		if math.Abs(gradX.Data[i]-numeric) > fdTolerance {
			t.Errorf("gradX[%d]: analytic %v, numeric %v", i, gradX.Data[i], numeric)
		}
	}
	for i := range gamma.Data {
		numeric := numericGrad(gamma, i, loss)
		if math.Abs(gradGamma.Data[i]-numeric) > fdTolerance {
			t.Errorf("gradGamma[%d]: analytic %v, numeric %v", i, gradGamma.Data[i], numeric)
		}
	}
	for i := range beta.Data {
		numeric := numericGrad(beta, i, loss)
		if math.Abs(gradBeta.Data[i]-numeric) > fdTolerance {
			t.Errorf("gradBeta[%d]: analytic %v, numeric %v", i, gradBeta.Data[i], numeric)
		}
	}
}

func TestCrossEntropyGradMatchesSoftmaxLoss(t *testing.T) {
	// The composed softmax + cross-entropy gradient at the logits is p - onehot.
	rng := rand.New(rand.NewSource(19))
	logits := NewTensorRand(rng, 1.0, 1, 5)
	gold := 2

	probs := Softmax(logits)
	analytic := CrossEntropyGrad(probs.Row(0), gold)

	loss := func() float64 { return CrossEntropy(Softmax(logits).Row(0), gold) }
	for i := range logits.Data {
		numeric := numericGrad(logits, i, loss)
		if math.Abs(analytic[i]-numeric) > fdTolerance {
			t.Errorf("gradLogits[%d]: analytic %v, numeric %v", i, analytic[i], numeric)
		}
	}
}

func TestAddBiasBackward(t *testing.T) {
	gradOut := NewTensor(3, 2)
	copy(gradOut.Data, []float64{1, 2, 3, 4, 5, 6})
	gradBias := AddBiasBackward(gradOut)
	if gradBias.Data[0] != 9 || gradBias.Data[1] != 12 {
		t.Errorf("Expected [9 12], got %v", gradBias.Data)
	}
}

func TestClipGradients(t *testing.T) {
	p := NewTensor(2, 2)
	copy(p.Grad, []float64{3, 4, 0, 0}) // norm 5
	ClipGradients([]*Tensor{p}, 1.0)
	norm := math.Sqrt(p.Grad[0]*p.Grad[0] + p.Grad[1]*p.Grad[1])
	if math.Abs(norm-1.0) > 1e-9 {
		t.Errorf("Expected norm 1 after clipping, got %v", norm)
	}

	q := NewTensor(2)
	copy(q.Grad, []float64{0.1, 0.2})
	ClipGradients([]*Tensor{q}, 1.0)
	if q.Grad[0] != 0.1 || q.Grad[1] != 0.2 {
		t.Error("Gradients under the norm must not change")
	}
}
