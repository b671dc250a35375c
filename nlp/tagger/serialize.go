package tagger

import (
	"math/rand"

	"gramtag/alg/nn"
	"gramtag/nlp/types"

	"github.com/pkg/errors"
)

const (
	VariantTransformer = "transformer"
	VariantBiRNN       = "birnn"
)

// EncoderSpec is enough to rebuild an encoder's structure; parameter values
// travel separately so predictor-only checkpoints can omit them.
type EncoderSpec struct {
	Variant  string
	FineTune bool

	// Word-piece transformer variant.
	Transformer TransformerConfig
	Pieces      []string

	// Token-level recurrent variant.
	EmbedDim  int
	RNNHidden int
	Forms     []string
}

// Model is the serializable state of a trained tagger. EncoderParams is nil
// for predictor-only checkpoints.
type Model struct {
	Properties    map[string][]string
	Encoder       EncoderSpec
	EncoderParams []*nn.Tensor
	HeadHidden    int
	HeadParams    [][]*nn.Tensor
}

// Freeze captures the tagger's state. With includeEncoder the encoder
// parameters are bundled alongside the predictor's.
func Freeze(t *Tagger, includeEncoder bool) *Model {
	model := &Model{
		Properties: t.Registry.Snapshot(),
		HeadParams: make([][]*nn.Tensor, len(t.Heads)),
	}
	for i, head := range t.Heads {
		model.HeadHidden = head.B1.Size()
		model.HeadParams[i] = head.Parameters()
	}
	switch encoder := t.Encoder.(type) {
	case *AggregatedEncoder:
		model.Encoder = EncoderSpec{
			Variant:     VariantTransformer,
			FineTune:    encoder.FineTune,
			Transformer: encoder.Encoder.Config(),
			Pieces:      encoder.WordPiece.Pieces(),
		}
	case *BiRNNEncoder:
		model.Encoder = EncoderSpec{
			Variant:   VariantBiRNN,
			EmbedDim:  encoder.Embeddings.Dim(),
			RNNHidden: encoder.Hidden,
			Forms:     encoder.Embeddings.Forms(),
		}
	}
	if includeEncoder {
		model.EncoderParams = t.Encoder.AllParameters()
	}
	return model
}

// Thaw rebuilds a tagger from a checkpoint that bundles encoder parameters.
func Thaw(model *Model) (*Tagger, error) {
	if model.EncoderParams == nil {
		return nil, errors.New("checkpoint has no encoder parameters; supply an encoder with ThawWithEncoder")
	}
	encoder, err := rebuildEncoder(model)
	if err != nil {
		return nil, err
	}
	if err := setParameters(encoder.AllParameters(), model.EncoderParams); err != nil {
		return nil, errors.Wrap(err, "restoring encoder parameters")
	}
	return ThawWithEncoder(model, encoder)
}

// ThawWithEncoder rebuilds the predictor heads over an externally supplied
// encoder (the predictor-only checkpoint path).
func ThawWithEncoder(model *Model, encoder ContextEncoder) (*Tagger, error) {
	registry, err := types.NewRegistry(model.Properties)
	if err != nil {
		return nil, err
	}
	if len(model.HeadParams) != registry.Len() {
		return nil, errors.Errorf("checkpoint has %d heads for %d properties",
			len(model.HeadParams), registry.Len())
	}
	rng := rand.New(rand.NewSource(0))
	heads := make([]*PropertyHead, registry.Len())
	for i, property := range registry.Properties() {
		head := NewPropertyHead(property, encoder.Dim(), model.HeadHidden, rng)
		if err := setParameters(head.Parameters(), model.HeadParams[i]); err != nil {
			return nil, errors.Wrapf(err, "restoring head %q", property.Name)
		}
		heads[i] = head
	}
	return NewTaggerWithHeads(registry, encoder, heads)
}

func rebuildEncoder(model *Model) (ContextEncoder, error) {
	rng := rand.New(rand.NewSource(0))
	switch model.Encoder.Variant {
	case VariantTransformer:
		wordPiece, err := NewWordPiece(VocabFromPieces(model.Encoder.Pieces))
		if err != nil {
			return nil, err
		}
		transformer, err := NewTransformerEncoder(model.Encoder.Transformer, rng)
		if err != nil {
			return nil, err
		}
		return NewAggregatedEncoder(wordPiece, transformer, model.Encoder.FineTune), nil
	case VariantBiRNN:
		embeddings := NewEmbeddingTable(model.Encoder.Forms, model.Encoder.EmbedDim, rng)
		return NewBiRNNEncoder(embeddings, model.Encoder.RNNHidden, rng), nil
	default:
		return nil, errors.Errorf("unknown encoder variant %q", model.Encoder.Variant)
	}
}

func setParameters(targets, source []*nn.Tensor) error {
	if len(targets) != len(source) {
		return errors.Errorf("parameter count mismatch: model has %d tensors, checkpoint %d",
			len(targets), len(source))
	}
	for i, target := range targets {
		if target.Size() != source[i].Size() {
			return errors.Errorf("parameter %d size mismatch: model %v, checkpoint %v",
				i, target.Dims, source[i].Dims)
		}
		copy(target.Data, source[i].Data)
	}
	return nil
}
