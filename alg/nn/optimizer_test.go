package nn

import (
	"math"
	"testing"
)

func TestSGDStep(t *testing.T) {
	p := NewTensor(2)
	copy(p.Data, []float64{1.0, -1.0})
	copy(p.Grad, []float64{0.5, -0.5})

	opt := NewSGD(0.0)
	opt.Step([]*Tensor{p}, 0.1)
	if math.Abs(p.Data[0]-0.95) > 1e-9 || math.Abs(p.Data[1]+0.95) > 1e-9 {
		t.Errorf("Expected [0.95 -0.95], got %v", p.Data)
	}

	opt.ZeroGrad([]*Tensor{p})
	if p.Grad[0] != 0.0 || p.Grad[1] != 0.0 {
		t.Error("ZeroGrad must clear gradients")
	}
}

func TestSGDWeightDecay(t *testing.T) {
	p := NewTensor(1)
	p.Data[0] = 2.0
	opt := NewSGD(0.1)
	opt.Step([]*Tensor{p}, 1.0)
	// grad 0 + decay 0.1*2 = 0.2
	if math.Abs(p.Data[0]-1.8) > 1e-9 {
		t.Errorf("Expected 1.8, got %v", p.Data[0])
	}
}

// Both optimizers should drive a convex quadratic toward its minimum.
func TestOptimizersMinimizeQuadratic(t *testing.T) {
	for name, opt := range map[string]Optimizer{
		"sgd":  NewSGD(0.0),
		"adam": NewAdam(0.0),
	} {
		p := NewTensor(2)
		copy(p.Data, []float64{5.0, -3.0})
		params := []*Tensor{p}
		for step := 0; step < 200; step++ {
			// loss = 0.5 * ||p||^2, grad = p
			copy(p.Grad, p.Data)
			opt.Step(params, 0.1)
			opt.ZeroGrad(params)
		}
		norm := math.Sqrt(p.Data[0]*p.Data[0] + p.Data[1]*p.Data[1])
		if norm > 0.1 {
			t.Errorf("%s: expected near-zero parameters after 200 steps, norm %v", name, norm)
		}
	}
}

func TestAdamFirstStepIsBounded(t *testing.T) {
	// With bias correction the very first Adam update approximates
	// lr * sign(grad) regardless of gradient magnitude.
	p := NewTensor(1)
	p.Data[0] = 1.0
	p.Grad[0] = 1000.0
	opt := NewAdam(0.0)
	opt.Step([]*Tensor{p}, 0.01)
	if math.Abs((1.0-p.Data[0])-0.01) > 1e-6 {
		t.Errorf("Expected first step of ~0.01, got %v", 1.0-p.Data[0])
	}
}
