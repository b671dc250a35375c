package tagger

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gramtag/alg/nn"
)

const (
	fdEpsilon   = 1e-6
	fdTolerance = 1e-4
)

func numericGrad(t *nn.Tensor, index int, loss func() float64) float64 {
	saved := t.Data[index]
	t.Data[index] = saved + fdEpsilon
	plus := loss()
	t.Data[index] = saved - fdEpsilon
	minus := loss()
	t.Data[index] = saved
	return (plus - minus) / (2.0 * fdEpsilon)
}

func weightedSum(x, weights *nn.Tensor) float64 {
	sum := 0.0
	for i := range x.Data {
		sum += x.Data[i] * weights.Data[i]
	}
	return sum
}

func tinyTransformer(t *testing.T) *TransformerEncoder {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	encoder, err := NewTransformerEncoder(TransformerConfig{
		VocabSize: 6,
		MaxPieces: 4,
		EmbedDim:  4,
		HiddenDim: 6,
		Layers:    1,
		Heads:     2,
	}, rng)
	if err != nil {
		t.Fatal(err)
	}
	return encoder
}

func TestTransformerForwardShape(t *testing.T) {
	encoder := tinyTransformer(t)
	out, err := encoder.Forward([]int{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if out.Rows() != 3 || out.Cols() != 4 {
		t.Errorf("Expected (3,4) output, got %v", out.Dims)
	}
	if encoder.Dim() != 4 {
		t.Errorf("Expected dim 4, got %d", encoder.Dim())
	}
}

func TestTransformerForwardTooManyPieces(t *testing.T) {
	encoder := tinyTransformer(t) // MaxPieces 4
	out, err := encoder.Forward([]int{1, 2, 3, 1, 2})
	if err == nil {
		t.Fatal("Expected error for a sequence beyond MaxPieces")
	}
	if out != nil {
		t.Error("Expected nil output on error")
	}
	if !strings.Contains(err.Error(), "5") || !strings.Contains(err.Error(), "4") {
		t.Errorf("Error must report the piece count and the maximum, got: %v", err)
	}
}

func TestTransformerRejectsBadHeadSplit(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := NewTransformerEncoder(TransformerConfig{
		VocabSize: 4, MaxPieces: 4, EmbedDim: 5, HiddenDim: 6, Layers: 1, Heads: 2,
	}, rng)
	if err == nil {
		t.Error("Expected error for embed dim not divisible by heads")
	}
}

func TestTransformerGradients(t *testing.T) {
	encoder := tinyTransformer(t)
	ids := []int{1, 2, 1}
	rng := rand.New(rand.NewSource(5))
	weights := nn.NewTensorRand(rng, 1.0, 3, 4)

	if _, err := encoder.Forward(ids); err != nil {
		t.Fatal(err)
	}
	encoder.Backward(weights)

	loss := func() float64 {
		forwarded, _ := encoder.Forward(ids)
		return weightedSum(forwarded, weights)
	}
	for pi, param := range encoder.Parameters() {
		for i := range param.Data {
			numeric := numericGrad(param, i, loss)
			if math.Abs(param.Grad[i]-numeric) > fdTolerance {
				t.Errorf("param %d entry %d: analytic %v, numeric %v", pi, i, param.Grad[i], numeric)
			}
		}
	}
}

func tinyAggregated(t *testing.T, fineTune bool) *AggregatedEncoder {
	t.Helper()
	wordPiece := testVocab(t, "do", "##g", "cat", "d", "o", "g")
	rng := rand.New(rand.NewSource(9))
	encoder, err := NewTransformerEncoder(TransformerConfig{
		VocabSize: wordPiece.VocabSize(),
		MaxPieces: 8,
		EmbedDim:  4,
		HiddenDim: 6,
		Layers:    1,
		Heads:     2,
	}, rng)
	if err != nil {
		t.Fatal(err)
	}
	return NewAggregatedEncoder(wordPiece, encoder, fineTune)
}

func TestAggregatedEncodeMeansPieces(t *testing.T) {
	aggregated := tinyAggregated(t, false)
	tokens := []string{"cat", "dog"} // dog splits into do + ##g
	out, err := aggregated.Encode(tokens)
	if err != nil {
		t.Fatal(err)
	}
	if out.Rows() != 2 || out.Cols() != 4 {
		t.Fatalf("Expected (2,4) output, got %v", out.Dims)
	}

	pieces, spans := aggregated.WordPiece.Split(tokens)
	if spans[1].Len() != 2 {
		t.Fatalf("Expected dog to split into 2 pieces, got %d", spans[1].Len())
	}
	encoded, err := aggregated.Encoder.Forward(aggregated.WordPiece.Encode(pieces))
	if err != nil {
		t.Fatal(err)
	}

	// Single-piece token passes through unchanged.
	for d := 0; d < 4; d++ {
		if math.Abs(out.At(0, d)-encoded.At(spans[0].Start, d)) > 1e-9 {
			t.Errorf("cat dim %d: expected pass-through", d)
		}
	}
	// Multi-piece token is the arithmetic mean of its pieces.
	for d := 0; d < 4; d++ {
		mean := (encoded.At(spans[1].Start, d) + encoded.At(spans[1].End, d)) / 2.0
		if math.Abs(out.At(1, d)-mean) > 1e-9 {
			t.Errorf("dog dim %d: expected mean %v, got %v", d, mean, out.At(1, d))
		}
	}
}

func TestAggregatedFrozenPropagate(t *testing.T) {
	aggregated := tinyAggregated(t, false)
	out, err := aggregated.Encode([]string{"cat", "dog"})
	if err != nil {
		t.Fatal(err)
	}
	if grad := aggregated.Propagate(nn.NewTensor(out.Dims...)); grad != nil {
		t.Error("Frozen encoder must not propagate gradients")
	}
	if aggregated.Parameters() != nil {
		t.Error("Frozen encoder must expose no trainable parameters")
	}
	if len(aggregated.AllParameters()) == 0 {
		t.Error("AllParameters must still expose the full set for checkpoints")
	}
}

func TestAggregatedFineTuneGradients(t *testing.T) {
	aggregated := tinyAggregated(t, true)
	tokens := []string{"cat", "dog"}
	rng := rand.New(rand.NewSource(21))
	weights := nn.NewTensorRand(rng, 1.0, 2, 4)

	if _, err := aggregated.Encode(tokens); err != nil {
		t.Fatal(err)
	}
	pieceGrad := aggregated.Propagate(weights)
	if pieceGrad == nil {
		t.Fatal("Fine-tuned encoder must propagate gradients")
	}
	if pieceGrad.Rows() != 3 {
		t.Errorf("Expected one gradient row per piece (3), got %d", pieceGrad.Rows())
	}

	loss := func() float64 {
		encoded, _ := aggregated.Encode(tokens)
		return weightedSum(encoded, weights)
	}
	for pi, param := range aggregated.Parameters() {
		for i := range param.Data {
			numeric := numericGrad(param, i, loss)
			if math.Abs(param.Grad[i]-numeric) > fdTolerance {
				t.Errorf("param %d entry %d: analytic %v, numeric %v", pi, i, param.Grad[i], numeric)
			}
		}
	}
}

func TestBiRNNEncodeShape(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	embeddings := NewEmbeddingTable([]string{"the", "cat", "sat"}, 3, rng)
	encoder := NewBiRNNEncoder(embeddings, 5, rng)
	if encoder.Dim() != 10 {
		t.Errorf("Expected dim 10, got %d", encoder.Dim())
	}
	out, err := encoder.Encode([]string{"the", "cat", "sat", "down"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Rows() != 4 || out.Cols() != 10 {
		t.Errorf("Expected (4,10) output, got %v", out.Dims)
	}
}

func TestBiRNNGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	embeddings := NewEmbeddingTable([]string{"a", "b", "c"}, 3, rng)
	encoder := NewBiRNNEncoder(embeddings, 4, rng)
	tokens := []string{"a", "b", "a"}
	weights := nn.NewTensorRand(rng, 1.0, 3, 8)

	if _, err := encoder.Encode(tokens); err != nil {
		t.Fatal(err)
	}
	encoder.Propagate(weights)

	loss := func() float64 {
		encoded, _ := encoder.Encode(tokens)
		return weightedSum(encoded, weights)
	}
	for pi, param := range encoder.Parameters() {
		for i := range param.Data {
			numeric := numericGrad(param, i, loss)
			if math.Abs(param.Grad[i]-numeric) > fdTolerance {
				t.Errorf("param %d entry %d: analytic %v, numeric %v", pi, i, param.Grad[i], numeric)
			}
		}
	}
}

func writeEmbeddings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEmbeddings(t *testing.T) {
	path := writeEmbeddings(t, "the 0.1 0.2\n\ncat 0.3 0.4\n")
	embeddings, err := LoadEmbeddings(path)
	if err != nil {
		t.Fatal(err)
	}
	if embeddings.Dim() != 2 {
		t.Errorf("Expected dim 2, got %d", embeddings.Dim())
	}
	if id := embeddings.lookup("cat"); id == 0 {
		t.Error("cat must not map to the unknown row")
	}
}

func TestLoadEmbeddingsMalformedEntry(t *testing.T) {
	path := writeEmbeddings(t, "the 0.1 0.2\ncat\n")
	if _, err := LoadEmbeddings(path); err == nil {
		t.Fatal("Expected an error for an entry without a vector")
	} else if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Error must name the offending line, got: %v", err)
	}
}

func TestEmbeddingLookupFallback(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	embeddings := NewEmbeddingTable([]string{"the"}, 2, rng)
	if id := embeddings.lookup("the"); id == 0 {
		t.Error("Known form must not map to the unknown row")
	}
	if id := embeddings.lookup("The"); id != embeddings.lookup("the") {
		t.Error("Capitalized form must fall back to its lowercase entry")
	}
	if id := embeddings.lookup("zzz"); id != 0 {
		t.Errorf("Unknown form must map to row 0, got %d", id)
	}
}
