package tagger

import (
	"fmt"
	"math"
	"math/rand"

	"gramtag/alg/nn"

	"github.com/pkg/errors"
)

const layerNormEpsilon = 1e-5

type TransformerConfig struct {
	VocabSize int
	MaxPieces int
	EmbedDim  int
	HiddenDim int
	Layers    int
	Heads     int
}

func (c TransformerConfig) validate() error {
	if c.EmbedDim%c.Heads != 0 {
		return fmt.Errorf("embed dim %d not divisible by %d heads", c.EmbedDim, c.Heads)
	}
	return nil
}

type layerNorm struct {
	gamma, beta *nn.Tensor
}

func newLayerNorm(dim int) *layerNorm {
	ln := &layerNorm{gamma: nn.NewTensor(dim), beta: nn.NewTensor(dim)}
	for i := 0; i < dim; i++ {
		ln.gamma.Data[i] = 1.0
	}
	return ln
}

func (ln *layerNorm) forward(x *nn.Tensor) *nn.Tensor {
	return nn.LayerNorm(x, ln.gamma, ln.beta, layerNormEpsilon)
}

// backward accumulates gamma/beta gradients and returns the input gradient.
func (ln *layerNorm) backward(x, gradY *nn.Tensor) *nn.Tensor {
	gradX, gradGamma, gradBeta := nn.LayerNormBackward(x, ln.gamma, gradY, layerNormEpsilon)
	ln.gamma.AccumulateGrad(gradGamma)
	ln.beta.AccumulateGrad(gradBeta)
	return gradX
}

// attention is bidirectional (unmasked) multi-head self-attention.
type attention struct {
	wq, wk, wv, wo *nn.Tensor
	heads, headDim int
	embedDim       int
}

func newAttention(embedDim, heads int, rng *rand.Rand) *attention {
	scale := 1.0 / math.Sqrt(float64(embedDim))
	return &attention{
		wq:       nn.NewTensorRand(rng, scale, embedDim, embedDim),
		wk:       nn.NewTensorRand(rng, scale, embedDim, embedDim),
		wv:       nn.NewTensorRand(rng, scale, embedDim, embedDim),
		wo:       nn.NewTensorRand(rng, scale, embedDim, embedDim),
		heads:    heads,
		headDim:  embedDim / heads,
		embedDim: embedDim,
	}
}

type attentionCache struct {
	input, q, k, v, context *nn.Tensor
}

// headSlice copies columns [h*headDim, (h+1)*headDim) into a (rows, headDim)
// tensor.
func (a *attention) headSlice(x *nn.Tensor, h int) *nn.Tensor {
	rows := x.Rows()
	out := nn.NewTensor(rows, a.headDim)
	for i := 0; i < rows; i++ {
		for d := 0; d < a.headDim; d++ {
			out.Set(x.At(i, h*a.headDim+d), i, d)
		}
	}
	return out
}

func (a *attention) forward(x *nn.Tensor) (*nn.Tensor, *attentionCache) {
	seqLen := x.Rows()
	q := nn.MatMul(x, a.wq)
	k := nn.MatMul(x, a.wk)
	v := nn.MatMul(x, a.wv)

	context := nn.NewTensor(seqLen, a.embedDim)
	scale := 1.0 / math.Sqrt(float64(a.headDim))
	for h := 0; h < a.heads; h++ {
		qh, kh, vh := a.headSlice(q, h), a.headSlice(k, h), a.headSlice(v, h)
		scores := nn.Scale(nn.MatMul(qh, nn.Transpose(kh)), scale)
		weights := nn.Softmax(scores)
		ctx := nn.MatMul(weights, vh)
		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.headDim; d++ {
				context.Set(ctx.At(i, d), i, h*a.headDim+d)
			}
		}
	}

	out := nn.MatMul(context, a.wo)
	return out, &attentionCache{input: x, q: q, k: k, v: v, context: context}
}

func (a *attention) backward(gradOut *nn.Tensor, cache *attentionCache) *nn.Tensor {
	seqLen := cache.input.Rows()
	scale := 1.0 / math.Sqrt(float64(a.headDim))

	gradContext, gradWo := nn.MatMulBackward(cache.context, a.wo, gradOut)
	a.wo.AccumulateGrad(gradWo)

	gradQ := nn.NewTensor(seqLen, a.embedDim)
	gradK := nn.NewTensor(seqLen, a.embedDim)
	gradV := nn.NewTensor(seqLen, a.embedDim)

	for h := 0; h < a.heads; h++ {
		qh := a.headSlice(cache.q, h)
		kh := a.headSlice(cache.k, h)
		vh := a.headSlice(cache.v, h)
		gradCtx := a.headSlice(gradContext, h)

		// Recompute attention weights from the cached projections.
		kt := nn.Transpose(kh)
		scores := nn.Scale(nn.MatMul(qh, kt), scale)
		weights := nn.Softmax(scores)

		gradWeights, gradVh := nn.MatMulBackward(weights, vh, gradCtx)
		gradScores := nn.Scale(nn.SoftmaxBackward(weights, gradWeights), scale)
		gradQh, gradKT := nn.MatMulBackward(qh, kt, gradScores)
		gradKh := nn.Transpose(gradKT)

		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.headDim; d++ {
				gradQ.Set(gradQh.At(i, d), i, h*a.headDim+d)
				gradK.Set(gradKh.At(i, d), i, h*a.headDim+d)
				gradV.Set(gradVh.At(i, d), i, h*a.headDim+d)
			}
		}
	}

	// The three projections share the same input, so input gradients add up.
	gradInputQ, gradWq := nn.MatMulBackward(cache.input, a.wq, gradQ)
	a.wq.AccumulateGrad(gradWq)
	gradInputK, gradWk := nn.MatMulBackward(cache.input, a.wk, gradK)
	a.wk.AccumulateGrad(gradWk)
	gradInputV, gradWv := nn.MatMulBackward(cache.input, a.wv, gradV)
	a.wv.AccumulateGrad(gradWv)

	return nn.Add(nn.Add(gradInputQ, gradInputK), gradInputV)
}

func (a *attention) parameters() []*nn.Tensor {
	return []*nn.Tensor{a.wq, a.wk, a.wv, a.wo}
}

type feedForward struct {
	w1, b1, w2, b2 *nn.Tensor
}

func newFeedForward(embedDim, hiddenDim int, rng *rand.Rand) *feedForward {
	scale := 1.0 / math.Sqrt(float64(embedDim))
	return &feedForward{
		w1: nn.NewTensorRand(rng, scale, embedDim, hiddenDim),
		b1: nn.NewTensor(hiddenDim),
		w2: nn.NewTensorRand(rng, 1.0/math.Sqrt(float64(hiddenDim)), hiddenDim, embedDim),
		b2: nn.NewTensor(embedDim),
	}
}

type ffCache struct {
	input, preActivation, hidden *nn.Tensor
}

func (ff *feedForward) forward(x *nn.Tensor) (*nn.Tensor, *ffCache) {
	preActivation := nn.AddBias(nn.MatMul(x, ff.w1), ff.b1)
	hidden := nn.GELU(preActivation)
	out := nn.AddBias(nn.MatMul(hidden, ff.w2), ff.b2)
	return out, &ffCache{input: x, preActivation: preActivation, hidden: hidden}
}

func (ff *feedForward) backward(gradOut *nn.Tensor, cache *ffCache) *nn.Tensor {
	gradHidden, gradW2 := nn.MatMulBackward(cache.hidden, ff.w2, gradOut)
	ff.w2.AccumulateGrad(gradW2)
	ff.b2.AccumulateGrad(nn.AddBiasBackward(gradOut))

	gradPre := nn.GELUBackward(cache.preActivation, gradHidden)

	gradInput, gradW1 := nn.MatMulBackward(cache.input, ff.w1, gradPre)
	ff.w1.AccumulateGrad(gradW1)
	ff.b1.AccumulateGrad(nn.AddBiasBackward(gradPre))

	return gradInput
}

func (ff *feedForward) parameters() []*nn.Tensor {
	return []*nn.Tensor{ff.w1, ff.b1, ff.w2, ff.b2}
}

// encoderBlock is a pre-norm transformer block:
//
//	x = x + attention(layerNorm(x))
//	x = x + feedForward(layerNorm(x))
type encoderBlock struct {
	ln1  *layerNorm
	attn *attention
	ln2  *layerNorm
	ff   *feedForward
}

func newEncoderBlock(config TransformerConfig, rng *rand.Rand) *encoderBlock {
	return &encoderBlock{
		ln1:  newLayerNorm(config.EmbedDim),
		attn: newAttention(config.EmbedDim, config.Heads, rng),
		ln2:  newLayerNorm(config.EmbedDim),
		ff:   newFeedForward(config.EmbedDim, config.HiddenDim, rng),
	}
}

type blockCache struct {
	attnInput *nn.Tensor // block input
	attnCache *attentionCache
	midInput  *nn.Tensor // input + attention output
	ffCache   *ffCache
}

func (b *encoderBlock) forward(x *nn.Tensor) (*nn.Tensor, *blockCache) {
	cache := &blockCache{attnInput: x}

	normed := b.ln1.forward(x)
	attended, attnCache := b.attn.forward(normed)
	cache.attnCache = attnCache
	x = nn.Add(x, attended)
	cache.midInput = x

	normed = b.ln2.forward(x)
	ffOut, ffCache := b.ff.forward(normed)
	cache.ffCache = ffCache
	x = nn.Add(x, ffOut)

	return x, cache
}

func (b *encoderBlock) backward(gradOut *nn.Tensor, cache *blockCache) *nn.Tensor {
	// Residual 2: gradient flows both through the feed-forward branch and
	// directly to midInput.
	gradFFIn := b.ff.backward(gradOut, cache.ffCache)
	gradMid := nn.Add(gradOut, b.ln2.backward(cache.midInput, gradFFIn))

	// Residual 1.
	gradAttnIn := b.attn.backward(gradMid, cache.attnCache)
	return nn.Add(gradMid, b.ln1.backward(cache.attnInput, gradAttnIn))
}

func (b *encoderBlock) parameters() []*nn.Tensor {
	params := []*nn.Tensor{b.ln1.gamma, b.ln1.beta}
	params = append(params, b.attn.parameters()...)
	params = append(params, b.ln2.gamma, b.ln2.beta)
	params = append(params, b.ff.parameters()...)
	return params
}

// TransformerEncoder contextualizes a word-piece sequence: piece + position
// embeddings, a stack of pre-norm bidirectional self-attention blocks, and a
// final layer norm. It operates at piece granularity; the aggregation
// decorator reconciles it to token granularity.
type TransformerEncoder struct {
	config     TransformerConfig
	pieceEmbed *nn.Tensor // (VocabSize, EmbedDim)
	posEmbed   *nn.Tensor // (MaxPieces, EmbedDim)
	blocks     []*encoderBlock
	lnFinal    *layerNorm

	cache *transformerCache
}

type transformerCache struct {
	pieceIDs     []int
	blockCaches  []*blockCache
	lnFinalInput *nn.Tensor
}

func NewTransformerEncoder(config TransformerConfig, rng *rand.Rand) (*TransformerEncoder, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	blocks := make([]*encoderBlock, config.Layers)
	for i := range blocks {
		blocks[i] = newEncoderBlock(config, rng)
	}
	return &TransformerEncoder{
		config:     config,
		pieceEmbed: nn.NewTensorRand(rng, 0.02, config.VocabSize, config.EmbedDim),
		posEmbed:   nn.NewTensorRand(rng, 0.02, config.MaxPieces, config.EmbedDim),
		blocks:     blocks,
		lnFinal:    newLayerNorm(config.EmbedDim),
	}, nil
}

func (t *TransformerEncoder) Config() TransformerConfig {
	return t.config
}

func (t *TransformerEncoder) Dim() int {
	return t.config.EmbedDim
}

// Forward returns one contextual vector per piece and retains the caches
// needed for Backward. Sequences longer than MaxPieces are an input error,
// not a programming error: they are reachable from any long sentence.
func (t *TransformerEncoder) Forward(pieceIDs []int) (*nn.Tensor, error) {
	if len(pieceIDs) > t.config.MaxPieces {
		return nil, errors.Errorf("%d pieces exceed the model maximum %d", len(pieceIDs), t.config.MaxPieces)
	}
	dim := t.config.EmbedDim
	x := nn.NewTensor(len(pieceIDs), dim)
	for i, id := range pieceIDs {
		for d := 0; d < dim; d++ {
			x.Set(t.pieceEmbed.Data[id*dim+d]+t.posEmbed.Data[i*dim+d], i, d)
		}
	}

	cache := &transformerCache{
		pieceIDs:    pieceIDs,
		blockCaches: make([]*blockCache, len(t.blocks)),
	}
	for i, block := range t.blocks {
		x, cache.blockCaches[i] = block.forward(x)
	}
	cache.lnFinalInput = x
	t.cache = cache

	return t.lnFinal.forward(x), nil
}

// Backward consumes one gradient per piece, accumulates parameter gradients
// and returns the gradients with respect to the piece embeddings' summed
// input rows.
func (t *TransformerEncoder) Backward(grad *nn.Tensor) *nn.Tensor {
	if t.cache == nil {
		panic("transformer: Backward called before Forward")
	}
	cache := t.cache
	t.cache = nil

	gradX := t.lnFinal.backward(cache.lnFinalInput, grad)
	for i := len(t.blocks) - 1; i >= 0; i-- {
		gradX = t.blocks[i].backward(gradX, cache.blockCaches[i])
	}

	dim := t.config.EmbedDim
	for i, id := range cache.pieceIDs {
		for d := 0; d < dim; d++ {
			t.pieceEmbed.Grad[id*dim+d] += gradX.At(i, d)
			t.posEmbed.Grad[i*dim+d] += gradX.At(i, d)
		}
	}
	return gradX
}

func (t *TransformerEncoder) Parameters() []*nn.Tensor {
	params := []*nn.Tensor{t.pieceEmbed, t.posEmbed}
	for _, block := range t.blocks {
		params = append(params, block.parameters()...)
	}
	params = append(params, t.lnFinal.gamma, t.lnFinal.beta)
	return params
}
