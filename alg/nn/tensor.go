// Package nn provides the tensor primitives, paired forward/backward
// operations and optimizers used by the grammatical property tagger. Each
// operation implements its own closed-form backward; there is no general
// autodiff graph.
package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Tensor is a row-major float64 array with a gradient buffer of the same
// size. Fields are exported for gob checkpoint serialization.
//
// Tensor is not safe for concurrent use.
type Tensor struct {
	Data []float64
	Dims []int
	Grad []float64
}

func NewTensor(dims ...int) *Tensor {
	if len(dims) == 0 {
		panic("nn: tensor dims cannot be empty")
	}
	size := 1
	for i, dim := range dims {
		if dim <= 0 {
			panic(fmt.Sprintf("nn: dims[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}
	dimsCopy := make([]int, len(dims))
	copy(dimsCopy, dims)
	return &Tensor{
		Data: make([]float64, size),
		Dims: dimsCopy,
		Grad: make([]float64, size),
	}
}

// NewTensorRand creates a tensor with normally distributed values of
// standard deviation scale, drawn from rng.
func NewTensorRand(rng *rand.Rand, scale float64, dims ...int) *Tensor {
	t := NewTensor(dims...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64() * scale
	}
	return t
}

func (t *Tensor) Size() int {
	return len(t.Data)
}

// Rows and Cols apply to 2D tensors, the common case throughout the tagger.
func (t *Tensor) Rows() int {
	return t.Dims[0]
}

func (t *Tensor) Cols() int {
	return t.Dims[len(t.Dims)-1]
}

func (t *Tensor) At(i, j int) float64 {
	return t.Data[i*t.Cols()+j]
}

func (t *Tensor) Set(value float64, i, j int) {
	t.Data[i*t.Cols()+j] = value
}

// Row returns a view (not a copy) of row i of a 2D tensor.
func (t *Tensor) Row(i int) []float64 {
	cols := t.Cols()
	return t.Data[i*cols : (i+1)*cols]
}

func (t *Tensor) ZeroGrad() {
	for i := range t.Grad {
		t.Grad[i] = 0.0
	}
}

func (t *Tensor) Clone() *Tensor {
	clone := NewTensor(t.Dims...)
	copy(clone.Data, t.Data)
	return clone
}

// AccumulateGrad adds grad's Data into t's gradient buffer.
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if !dimsEqual(t.Dims, grad.Dims) {
		panic("nn: AccumulateGrad dims mismatch")
	}
	for i := range t.Grad {
		t.Grad[i] += grad.Data[i]
	}
}

func dimsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MatMul computes a @ b for 2D tensors using the kernel selected at package
// init (see accel.go).
func MatMul(a, b *Tensor) *Tensor {
	if len(a.Dims) != 2 || len(b.Dims) != 2 {
		panic("nn: MatMul requires 2D tensors")
	}
	if a.Dims[1] != b.Dims[0] {
		panic(fmt.Sprintf("nn: MatMul dims mismatch %v x %v", a.Dims, b.Dims))
	}
	out := NewTensor(a.Dims[0], b.Dims[1])
	matmulKernel(a.Data, b.Data, out.Data, a.Dims[0], a.Dims[1], b.Dims[1])
	return out
}

func Transpose(a *Tensor) *Tensor {
	if len(a.Dims) != 2 {
		panic("nn: Transpose requires a 2D tensor")
	}
	rows, cols := a.Dims[0], a.Dims[1]
	out := NewTensor(cols, rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Data[j*rows+i] = a.Data[i*cols+j]
		}
	}
	return out
}

func Add(a, b *Tensor) *Tensor {
	if !dimsEqual(a.Dims, b.Dims) {
		panic("nn: Add dims mismatch")
	}
	out := NewTensor(a.Dims...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out
}

func Scale(a *Tensor, scalar float64) *Tensor {
	out := NewTensor(a.Dims...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] * scalar
	}
	return out
}

// AddBias adds a bias vector to every row of a 2D tensor.
func AddBias(x, bias *Tensor) *Tensor {
	rows, cols := x.Dims[0], x.Dims[1]
	if bias.Size() != cols {
		panic("nn: AddBias size mismatch")
	}
	out := NewTensor(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Data[i*cols+j] = x.Data[i*cols+j] + bias.Data[j]
		}
	}
	return out
}

// Tanh applies the bounded activation elementwise.
func Tanh(x *Tensor) *Tensor {
	out := NewTensor(x.Dims...)
	for i := range x.Data {
		out.Data[i] = math.Tanh(x.Data[i])
	}
	return out
}

// GELU applies the tanh-approximated Gaussian error linear unit.
func GELU(x *Tensor) *Tensor {
	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)
	out := NewTensor(x.Dims...)
	for i := range x.Data {
		v := x.Data[i]
		out.Data[i] = 0.5 * v * (1.0 + math.Tanh(sqrt2OverPi*(v+coeff*v*v*v)))
	}
	return out
}

// Softmax normalizes each row of a 2D tensor into a probability
// distribution, with max-subtraction for numerical stability.
func Softmax(x *Tensor) *Tensor {
	if len(x.Dims) != 2 {
		panic("nn: Softmax requires a 2D tensor")
	}
	rows, cols := x.Dims[0], x.Dims[1]
	out := NewTensor(rows, cols)
	for i := 0; i < rows; i++ {
		max := x.Data[i*cols]
		for j := 1; j < cols; j++ {
			if x.Data[i*cols+j] > max {
				max = x.Data[i*cols+j]
			}
		}
		sum := 0.0
		for j := 0; j < cols; j++ {
			e := math.Exp(x.Data[i*cols+j] - max)
			out.Data[i*cols+j] = e
			sum += e
		}
		for j := 0; j < cols; j++ {
			out.Data[i*cols+j] /= sum
		}
	}
	return out
}

// LayerNorm normalizes each row to zero mean and unit variance, then applies
// the learned gamma/beta affine transform.
func LayerNorm(x, gamma, beta *Tensor, epsilon float64) *Tensor {
	rows, cols := x.Dims[0], x.Dims[1]
	out := NewTensor(rows, cols)
	for i := 0; i < rows; i++ {
		mean := 0.0
		for j := 0; j < cols; j++ {
			mean += x.At(i, j)
		}
		mean /= float64(cols)

		variance := 0.0
		for j := 0; j < cols; j++ {
			diff := x.At(i, j) - mean
			variance += diff * diff
		}
		variance /= float64(cols)

		std := math.Sqrt(variance + epsilon)
		for j := 0; j < cols; j++ {
			normalized := (x.At(i, j) - mean) / std
			out.Set(normalized*gamma.Data[j]+beta.Data[j], i, j)
		}
	}
	return out
}

func Argmax(row []float64) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
