package tagger

import (
	"bufio"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"gramtag/alg/nn"
	"gramtag/util"

	"github.com/pkg/errors"
)

const unknownToken = "[UNK]"

// EmbeddingTable maps token forms to vectors. Row 0 is the unknown-token
// vector. Vectors are trainable parameters.
type EmbeddingTable struct {
	vocab   *util.EnumSet
	Vectors *nn.Tensor // (vocab size, dim)
}

func NewEmbeddingTable(forms []string, dim int, rng *rand.Rand) *EmbeddingTable {
	vocab := util.NewEnumSet(len(forms) + 1)
	vocab.Add(unknownToken)
	for _, form := range forms {
		vocab.Add(form)
	}
	vocab.Frozen = true
	return &EmbeddingTable{
		vocab:   vocab,
		Vectors: nn.NewTensorRand(rng, 0.1, vocab.Len(), dim),
	}
}

// LoadEmbeddings reads externally produced token vectors in the text format
// "form v1 v2 ... vD", one entry per line. An unknown-token row is added at
// index 0 if the file does not provide one.
func LoadEmbeddings(filename string) (*EmbeddingTable, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "opening embeddings %s", filename)
	}
	defer file.Close()

	vocab := util.NewEnumSet(100000)
	vocab.Add(unknownToken)
	var rows [][]float64
	rows = append(rows, nil) // placeholder for [UNK], sized after dim is known

	dim := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, errors.Errorf("embeddings %s: malformed entry at line %d", filename, line)
		}
		form := fields[0]
		vector := make([]float64, len(fields)-1)
		for i, field := range fields[1:] {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "embeddings %s: bad value at line %d", filename, line)
			}
			vector[i] = value
		}
		if dim == 0 {
			dim = len(vector)
		} else if len(vector) != dim {
			return nil, errors.Errorf("embeddings %s: dimension %d at line %d, expected %d",
				filename, len(vector), line, dim)
		}
		if form == unknownToken {
			rows[0] = vector
			continue
		}
		if _, added := vocab.Add(form); added {
			rows = append(rows, vector)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading embeddings %s", filename)
	}
	if dim == 0 {
		return nil, errors.Errorf("embeddings %s: no entries", filename)
	}
	if rows[0] == nil {
		rows[0] = make([]float64, dim)
	}
	vocab.Frozen = true

	vectors := nn.NewTensor(vocab.Len(), dim)
	for i, row := range rows {
		copy(vectors.Row(i), row)
	}
	return &EmbeddingTable{vocab: vocab, Vectors: vectors}, nil
}

func (e *EmbeddingTable) Dim() int {
	return e.Vectors.Cols()
}

func (e *EmbeddingTable) Forms() []string {
	return e.vocab.Values()
}

func (e *EmbeddingTable) lookup(form string) int {
	if id, exists := e.vocab.IndexOf(form); exists {
		return id
	}
	if id, exists := e.vocab.IndexOf(strings.ToLower(form)); exists {
		return id
	}
	return 0
}

// rnnCell is one direction of an Elman recurrence:
//
//	h[t] = tanh(x[t] @ wx + h[t-1] @ wh + b)
type rnnCell struct {
	wx, wh, b *nn.Tensor
	hidden    int
}

func newRNNCell(inputDim, hidden int, rng *rand.Rand) *rnnCell {
	return &rnnCell{
		wx:     nn.NewTensorRand(rng, 1.0/math.Sqrt(float64(inputDim)), inputDim, hidden),
		wh:     nn.NewTensorRand(rng, 1.0/math.Sqrt(float64(hidden)), hidden, hidden),
		b:      nn.NewTensor(hidden),
		hidden: hidden,
	}
}

// run computes the hidden state sequence over the given time order.
func (c *rnnCell) run(x *nn.Tensor, order []int) *nn.Tensor {
	states := nn.NewTensor(x.Rows(), c.hidden)
	prev := make([]float64, c.hidden)
	inputDim := x.Cols()
	for _, t := range order {
		xt := x.Row(t)
		ht := states.Row(t)
		for j := 0; j < c.hidden; j++ {
			sum := c.b.Data[j]
			for i := 0; i < inputDim; i++ {
				sum += xt[i] * c.wx.Data[i*c.hidden+j]
			}
			for k := 0; k < c.hidden; k++ {
				sum += prev[k] * c.wh.Data[k*c.hidden+j]
			}
			ht[j] = math.Tanh(sum)
		}
		prev = ht
	}
	return states
}

// propagate runs backpropagation through time in reverse of order,
// accumulating parameter gradients and adding input gradients into gradX.
func (c *rnnCell) propagate(x, states, gradStates, gradX *nn.Tensor, order []int) {
	inputDim := x.Cols()
	carry := make([]float64, c.hidden)
	for step := len(order) - 1; step >= 0; step-- {
		t := order[step]
		ht := states.Row(t)
		var prev []float64
		if step > 0 {
			prev = states.Row(order[step-1])
		}

		delta := make([]float64, c.hidden)
		for j := 0; j < c.hidden; j++ {
			dh := gradStates.Row(t)[j] + carry[j]
			delta[j] = dh * (1.0 - ht[j]*ht[j])
		}

		xt := x.Row(t)
		gxt := gradX.Row(t)
		for j := 0; j < c.hidden; j++ {
			c.b.Grad[j] += delta[j]
			for i := 0; i < inputDim; i++ {
				c.wx.Grad[i*c.hidden+j] += xt[i] * delta[j]
			}
			if prev != nil {
				for k := 0; k < c.hidden; k++ {
					c.wh.Grad[k*c.hidden+j] += prev[k] * delta[j]
				}
			}
		}
		for i := 0; i < inputDim; i++ {
			sum := 0.0
			for j := 0; j < c.hidden; j++ {
				sum += c.wx.Data[i*c.hidden+j] * delta[j]
			}
			gxt[i] += sum
		}
		for k := 0; k < c.hidden; k++ {
			sum := 0.0
			for j := 0; j < c.hidden; j++ {
				sum += c.wh.Data[k*c.hidden+j] * delta[j]
			}
			carry[k] = sum
		}
	}
}

func (c *rnnCell) parameters() []*nn.Tensor {
	return []*nn.Tensor{c.wx, c.wh, c.b}
}

// BiRNNEncoder contextualizes token-level embeddings with forward and
// backward Elman recurrences; the per-token output is the concatenation of
// the two directional states. It operates at token granularity, so no piece
// aggregation applies.
type BiRNNEncoder struct {
	Embeddings *EmbeddingTable
	Hidden     int

	forward  *rnnCell
	backward *rnnCell

	cache *birnnCache
}

type birnnCache struct {
	ids            []int
	input          *nn.Tensor
	fwd, bwd       *nn.Tensor
	fwdOrd, bwdOrd []int
}

func NewBiRNNEncoder(embeddings *EmbeddingTable, hidden int, rng *rand.Rand) *BiRNNEncoder {
	return &BiRNNEncoder{
		Embeddings: embeddings,
		Hidden:     hidden,
		forward:    newRNNCell(embeddings.Dim(), hidden, rng),
		backward:   newRNNCell(embeddings.Dim(), hidden, rng),
	}
}

func (b *BiRNNEncoder) Dim() int {
	return 2 * b.Hidden
}

func (b *BiRNNEncoder) Encode(tokens []string) (*nn.Tensor, error) {
	dim := b.Embeddings.Dim()
	ids := make([]int, len(tokens))
	input := nn.NewTensor(len(tokens), dim)
	for i, form := range tokens {
		ids[i] = b.Embeddings.lookup(form)
		copy(input.Row(i), b.Embeddings.Vectors.Row(ids[i]))
	}

	fwdOrd := make([]int, len(tokens))
	bwdOrd := make([]int, len(tokens))
	for i := range fwdOrd {
		fwdOrd[i] = i
		bwdOrd[i] = len(tokens) - 1 - i
	}
	fwd := b.forward.run(input, fwdOrd)
	bwd := b.backward.run(input, bwdOrd)

	out := nn.NewTensor(len(tokens), 2*b.Hidden)
	for i := 0; i < len(tokens); i++ {
		copy(out.Row(i)[:b.Hidden], fwd.Row(i))
		copy(out.Row(i)[b.Hidden:], bwd.Row(i))
	}
	b.cache = &birnnCache{ids: ids, input: input, fwd: fwd, bwd: bwd, fwdOrd: fwdOrd, bwdOrd: bwdOrd}
	return out, nil
}

// Propagate consumes one gradient per token (already merged across heads),
// accumulates parameter and embedding gradients, and returns the gradients
// with respect to the input token vectors.
func (b *BiRNNEncoder) Propagate(grad *nn.Tensor) *nn.Tensor {
	if b.cache == nil {
		panic("birnn: Propagate called before Encode")
	}
	cache := b.cache
	b.cache = nil

	tokens := cache.input.Rows()
	gradFwd := nn.NewTensor(tokens, b.Hidden)
	gradBwd := nn.NewTensor(tokens, b.Hidden)
	for i := 0; i < tokens; i++ {
		copy(gradFwd.Row(i), grad.Row(i)[:b.Hidden])
		copy(gradBwd.Row(i), grad.Row(i)[b.Hidden:])
	}

	gradInput := nn.NewTensor(tokens, b.Embeddings.Dim())
	b.forward.propagate(cache.input, cache.fwd, gradFwd, gradInput, cache.fwdOrd)
	b.backward.propagate(cache.input, cache.bwd, gradBwd, gradInput, cache.bwdOrd)

	dim := b.Embeddings.Dim()
	for i, id := range cache.ids {
		for d := 0; d < dim; d++ {
			b.Embeddings.Vectors.Grad[id*dim+d] += gradInput.At(i, d)
		}
	}
	return gradInput
}

func (b *BiRNNEncoder) Parameters() []*nn.Tensor {
	params := []*nn.Tensor{b.Embeddings.Vectors}
	params = append(params, b.forward.parameters()...)
	params = append(params, b.backward.parameters()...)
	return params
}

func (b *BiRNNEncoder) AllParameters() []*nn.Tensor {
	return b.Parameters()
}

var _ ContextEncoder = &BiRNNEncoder{}
