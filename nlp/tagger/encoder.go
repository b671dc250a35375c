package tagger

import (
	"gramtag/alg/nn"
)

// ContextEncoder turns a token sequence into one contextual vector per
// token and accepts one gradient per token on the way back.
//
// Encode returns a (len(tokens), Dim()) tensor, or an error when the
// sequence cannot be encoded (e.g. it exceeds the encoder's capacity).
// Propagate consumes the matching per-token gradient tensor, accumulates
// parameter gradients, and returns the gradients with respect to the
// encoder's raw input vectors (per piece for the word-piece variant, per
// token otherwise); it returns nil when the encoder is frozen.
//
// Parameters is the trainable set handed to the optimizer; AllParameters is
// the full set, used for checkpoint serialization.
type ContextEncoder interface {
	Encode(tokens []string) (*nn.Tensor, error)
	Propagate(grad *nn.Tensor) *nn.Tensor
	Dim() int
	Parameters() []*nn.Tensor
	AllParameters() []*nn.Tensor
}
