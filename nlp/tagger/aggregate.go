package tagger

import (
	"fmt"

	"gramtag/alg/nn"

	"github.com/pkg/errors"
)

// AggregatedEncoder adapts the piece-level transformer to the token-level
// ContextEncoder contract. Encoding averages each token's piece vectors
// into a single vector; propagation splits each token gradient into equal
// per-piece shares before descending into the transformer.
//
// FineTune gates gradient propagation: when off the transformer's
// parameters receive no gradient and Propagate returns nil.
type AggregatedEncoder struct {
	WordPiece *WordPiece
	Encoder   *TransformerEncoder
	FineTune  bool

	spans []PieceSpan
}

func NewAggregatedEncoder(wordPiece *WordPiece, encoder *TransformerEncoder, fineTune bool) *AggregatedEncoder {
	return &AggregatedEncoder{WordPiece: wordPiece, Encoder: encoder, FineTune: fineTune}
}

func (a *AggregatedEncoder) Dim() int {
	return a.Encoder.Dim()
}

func (a *AggregatedEncoder) Encode(tokens []string) (*nn.Tensor, error) {
	pieces, spans := a.WordPiece.Split(tokens)
	encoded, err := a.Encoder.Forward(a.WordPiece.Encode(pieces))
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %d tokens", len(tokens))
	}
	a.spans = spans

	dim := a.Encoder.Dim()
	aggregated := nn.NewTensor(len(tokens), dim)
	for i, span := range spans {
		if span.Len() == 1 {
			// Single piece: the vector passes through unchanged.
			copy(aggregated.Row(i), encoded.Row(span.Start))
			continue
		}
		row := aggregated.Row(i)
		for p := span.Start; p <= span.End; p++ {
			piece := encoded.Row(p)
			for d := 0; d < dim; d++ {
				row[d] += piece[d]
			}
		}
		count := float64(span.Len())
		for d := 0; d < dim; d++ {
			row[d] /= count
		}
	}
	if aggregated.Rows() != len(tokens) {
		panic(fmt.Sprintf("aggregation produced %d vectors for %d tokens", aggregated.Rows(), len(tokens)))
	}
	return aggregated, nil
}

func (a *AggregatedEncoder) Propagate(grad *nn.Tensor) *nn.Tensor {
	if a.spans == nil {
		panic("aggregated encoder: Propagate called before Encode")
	}
	spans := a.spans
	a.spans = nil
	if !a.FineTune {
		return nil
	}

	dim := a.Encoder.Dim()
	pieceCount := spans[len(spans)-1].End + 1
	pieceGrad := nn.NewTensor(pieceCount, dim)
	for i, span := range spans {
		share := 1.0 / float64(span.Len())
		tokenGrad := grad.Row(i)
		for p := span.Start; p <= span.End; p++ {
			row := pieceGrad.Row(p)
			for d := 0; d < dim; d++ {
				row[d] = tokenGrad[d] * share
			}
		}
	}
	return a.Encoder.Backward(pieceGrad)
}

func (a *AggregatedEncoder) Parameters() []*nn.Tensor {
	if !a.FineTune {
		return nil
	}
	return a.Encoder.Parameters()
}

func (a *AggregatedEncoder) AllParameters() []*nn.Tensor {
	return a.Encoder.Parameters()
}

var _ ContextEncoder = &AggregatedEncoder{}
