package nn

import (
	"math"
)

// Optimizer updates parameters in place from their accumulated gradients.
type Optimizer interface {
	Step(params []*Tensor, lr float64)
	ZeroGrad(params []*Tensor)
}

type SGD struct {
	WeightDecay float64
}

func NewSGD(weightDecay float64) *SGD {
	return &SGD{WeightDecay: weightDecay}
}

func (opt *SGD) Step(params []*Tensor, lr float64) {
	for _, p := range params {
		for i := range p.Data {
			grad := p.Grad[i] + opt.WeightDecay*p.Data[i]
			p.Data[i] -= lr * grad
		}
	}
}

func (opt *SGD) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// Adam keeps first and second moment estimates per parameter tensor, keyed
// by position in the params slice; the slice must be stable across steps.
type Adam struct {
	Beta1, Beta2 float64
	Epsilon      float64
	WeightDecay  float64

	step int
	m    [][]float64
	v    [][]float64
}

func NewAdam(weightDecay float64) *Adam {
	return &Adam{
		Beta1:       0.9,
		Beta2:       0.999,
		Epsilon:     1e-8,
		WeightDecay: weightDecay,
	}
}

func (opt *Adam) Step(params []*Tensor, lr float64) {
	if opt.m == nil {
		opt.m = make([][]float64, len(params))
		opt.v = make([][]float64, len(params))
		for i, p := range params {
			opt.m[i] = make([]float64, p.Size())
			opt.v[i] = make([]float64, p.Size())
		}
	}
	opt.step++
	correction1 := 1.0 - math.Pow(opt.Beta1, float64(opt.step))
	correction2 := 1.0 - math.Pow(opt.Beta2, float64(opt.step))

	for pi, p := range params {
		m, v := opt.m[pi], opt.v[pi]
		for i := range p.Data {
			grad := p.Grad[i] + opt.WeightDecay*p.Data[i]
			m[i] = opt.Beta1*m[i] + (1.0-opt.Beta1)*grad
			v[i] = opt.Beta2*v[i] + (1.0-opt.Beta2)*grad*grad
			mHat := m[i] / correction1
			vHat := v[i] / correction2
			p.Data[i] -= lr * mHat / (math.Sqrt(vHat) + opt.Epsilon)
		}
	}
}

func (opt *Adam) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
