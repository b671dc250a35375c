package nn

import (
	"math"
)

// MatMulBackward computes the gradients of C = A @ B given gradC:
// gradA = gradC @ B^T, gradB = A^T @ gradC.
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	gradA = MatMul(gradC, Transpose(b))
	gradB = MatMul(Transpose(a), gradC)
	return gradA, gradB
}

// AddBiasBackward sums the output gradient over rows, yielding the bias
// gradient. The input gradient is the output gradient unchanged.
func AddBiasBackward(gradOut *Tensor) *Tensor {
	rows, cols := gradOut.Dims[0], gradOut.Dims[1]
	gradBias := NewTensor(cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			gradBias.Data[j] += gradOut.Data[i*cols+j]
		}
	}
	return gradBias
}

// TanhBackward computes gradX given y = tanh(x) and gradY:
// gradX = gradY * (1 - y^2).
func TanhBackward(y, gradY *Tensor) *Tensor {
	gradX := NewTensor(y.Dims...)
	for i := range y.Data {
		gradX.Data[i] = gradY.Data[i] * (1.0 - y.Data[i]*y.Data[i])
	}
	return gradX
}

// GELUBackward computes gradX for the tanh-approximated GELU.
func GELUBackward(x, gradY *Tensor) *Tensor {
	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)
	gradX := NewTensor(x.Dims...)
	for i := range x.Data {
		v := x.Data[i]
		inner := sqrt2OverPi * (v + coeff*v*v*v)
		tanhInner := math.Tanh(inner)
		tanhDeriv := 1.0 - tanhInner*tanhInner
		innerDeriv := sqrt2OverPi * (1.0 + 3.0*coeff*v*v)
		geluDeriv := 0.5*(1.0+tanhInner) + 0.5*v*tanhDeriv*innerDeriv
		gradX.Data[i] = gradY.Data[i] * geluDeriv
	}
	return gradX
}

// SoftmaxBackward computes gradX given y = softmax(x) row-wise and gradY:
// gradX[i] = y[i] * (gradY[i] - sum_j gradY[j]*y[j]).
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	rows, cols := y.Dims[0], y.Dims[1]
	gradX := NewTensor(rows, cols)
	for i := 0; i < rows; i++ {
		dot := 0.0
		for j := 0; j < cols; j++ {
			dot += gradY.At(i, j) * y.At(i, j)
		}
		for j := 0; j < cols; j++ {
			gradX.Set(y.At(i, j)*(gradY.At(i, j)-dot), i, j)
		}
	}
	return gradX
}

// LayerNormBackward computes input, gamma and beta gradients for
// y = gamma * (x - mean) / std + beta, normalizing over each row.
func LayerNormBackward(x, gamma, gradY *Tensor, epsilon float64) (gradX, gradGamma, gradBeta *Tensor) {
	rows, cols := x.Dims[0], x.Dims[1]
	gradX = NewTensor(rows, cols)
	gradGamma = NewTensor(cols)
	gradBeta = NewTensor(cols)
	n := float64(cols)

	for i := 0; i < rows; i++ {
		mean := 0.0
		for j := 0; j < cols; j++ {
			mean += x.At(i, j)
		}
		mean /= n

		variance := 0.0
		for j := 0; j < cols; j++ {
			diff := x.At(i, j) - mean
			variance += diff * diff
		}
		variance /= n
		std := math.Sqrt(variance + epsilon)

		sumGradNorm := 0.0
		sumGradNormXNorm := 0.0
		for j := 0; j < cols; j++ {
			xNorm := (x.At(i, j) - mean) / std
			gradGamma.Data[j] += gradY.At(i, j) * xNorm
			gradBeta.Data[j] += gradY.At(i, j)

			gradNorm := gradY.At(i, j) * gamma.Data[j]
			sumGradNorm += gradNorm
			sumGradNormXNorm += gradNorm * xNorm
		}

		for j := 0; j < cols; j++ {
			xNorm := (x.At(i, j) - mean) / std
			gradNorm := gradY.At(i, j) * gamma.Data[j]
			gradX.Set((n*gradNorm-sumGradNorm-xNorm*sumGradNormXNorm)/(n*std), i, j)
		}
	}
	return gradX, gradGamma, gradBeta
}

// CrossEntropy returns -log p[gold] for one probability row.
func CrossEntropy(probs []float64, gold int) float64 {
	p := probs[gold]
	if p < 1e-12 {
		p = 1e-12
	}
	return -math.Log(p)
}

// CrossEntropyGrad returns the gradient of the cross-entropy loss with
// respect to the logits that produced probs: p - onehot(gold).
func CrossEntropyGrad(probs []float64, gold int) []float64 {
	grad := make([]float64, len(probs))
	copy(grad, probs)
	grad[gold] -= 1.0
	return grad
}

// ClipGradients scales all parameter gradients down to maxNorm when their
// global L2 norm exceeds it.
func ClipGradients(params []*Tensor, maxNorm float64) {
	var total float64
	for _, p := range params {
		for _, g := range p.Grad {
			total += g * g
		}
	}
	norm := math.Sqrt(total)
	if norm <= maxNorm {
		return
	}
	scale := maxNorm / norm
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] *= scale
		}
	}
}
