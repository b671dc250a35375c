package jsonl

import (
	"bytes"
	"strings"
	"testing"

	"gramtag/nlp/types"
)

const singleTokenExample = `{"tokens":[{"form":"run","morphologies":[{"components":[{"lemma":"run","properties":{"tense":"present"}}]}]}]}`

func TestReadSingleToken(t *testing.T) {
	sentences, err := Read(strings.NewReader(singleTokenExample))
	if err != nil {
		t.Fatal(err)
	}
	if len(sentences) != 1 {
		t.Fatalf("Expected 1 sentence, got %d", len(sentences))
	}
	tokens := sentences[0].Tokens
	if len(tokens) != 1 {
		t.Fatalf("Expected 1 token, got %d", len(tokens))
	}
	if tokens[0].Form != "run" {
		t.Errorf("Expected form run, got %s", tokens[0].Form)
	}
	if tokens[0].Lemma != "run" {
		t.Errorf("Expected gold lemma run, got %s", tokens[0].Lemma)
	}
	if tokens[0].Gold["tense"] != "present" {
		t.Errorf("Expected gold tense present, got %s", tokens[0].Gold["tense"])
	}
	if _, exists := tokens[0].Gold["mood"]; exists {
		t.Error("mood must be absent from gold, not empty")
	}
}

func TestReadGoldFromFirstMorphology(t *testing.T) {
	line := `{"tokens":[{"form":"walks","morphologies":[` +
		`{"components":[{"lemma":"walk","properties":{"tense":"present","person":"third"}}]},` +
		`{"components":[{"lemma":"walk","properties":{"number":"plural"}}]}]}]}`
	sentences, err := Read(strings.NewReader(line))
	if err != nil {
		t.Fatal(err)
	}
	gold := sentences[0].Tokens[0].Gold
	if gold["tense"] != "present" || gold["person"] != "third" {
		t.Errorf("Gold must come from the first candidate, got %v", gold)
	}
	if _, exists := gold["number"]; exists {
		t.Error("Second candidate must not contribute gold values")
	}
}

func TestReadMultiComponentLemma(t *testing.T) {
	line := `{"tokens":[{"form":"du","morphologies":[{"components":[` +
		`{"lemma":"de","properties":{"case":"genitive"}},` +
		`{"lemma":"le","properties":{"gender":"masculine","case":"accusative"}}]}]}]}`
	sentences, err := Read(strings.NewReader(line), WithLemmaSeparator("+"))
	if err != nil {
		t.Fatal(err)
	}
	token := sentences[0].Tokens[0]
	if token.Lemma != "de+le" {
		t.Errorf("Expected joined lemma de+le, got %s", token.Lemma)
	}
	// On property conflict the first component wins.
	if token.Gold["case"] != "genitive" {
		t.Errorf("Expected case genitive from first component, got %s", token.Gold["case"])
	}
	if token.Gold["gender"] != "masculine" {
		t.Errorf("Expected gender masculine, got %s", token.Gold["gender"])
	}
}

func TestReadMalformedLineReportsIndex(t *testing.T) {
	input := singleTokenExample + "\nnot json\n"
	_, err := Read(strings.NewReader(input))
	if err == nil {
		t.Fatal("Expected error for malformed line")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Error must carry the line index, got: %v", err)
	}
}

func TestReadRejectsEmptyTokenList(t *testing.T) {
	_, err := Read(strings.NewReader(`{"tokens":[]}`))
	if err == nil {
		t.Error("Expected error for sentence with no tokens")
	}
}

func TestReadSkipsBlankLines(t *testing.T) {
	input := "\n" + singleTokenExample + "\n\n" + singleTokenExample + "\n"
	sentences, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(sentences) != 2 {
		t.Errorf("Expected 2 sentences, got %d", len(sentences))
	}
}

func TestReadLimit(t *testing.T) {
	input := strings.Repeat(singleTokenExample+"\n", 5)
	sentences, err := Read(strings.NewReader(input), WithLimit(3))
	if err != nil {
		t.Fatal(err)
	}
	if len(sentences) != 3 {
		t.Errorf("Expected 3 sentences, got %d", len(sentences))
	}
}

func TestComponentSpans(t *testing.T) {
	token := &types.Token{Form: "du", Start: 10, End: 12}
	morphology := types.Morphology{Components: []types.MorphologyComponent{
		{Lemma: "de"},
		{Lemma: "le"},
	}}
	spans := ComponentSpans(token, morphology, " ")
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}
	if spans[0].Start != 10 || spans[0].End != 12 {
		t.Errorf("Expected first span 10-12, got %v", spans[0])
	}
	if spans[1].Start != 13 || spans[1].End != 15 {
		t.Errorf("Expected second span 13-15, got %v", spans[1])
	}
}

func TestWriteTaggedRoundTrip(t *testing.T) {
	tagged := []TaggedSentence{{
		Tokens: []types.Token{{Form: "run"}},
		Predictions: []types.PropertyPredictions{{
			"tense": {Property: "tense", Value: "present"},
		}},
	}}
	var buf bytes.Buffer
	if err := WriteTagged(&buf, tagged); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `"form":"run"`) || !strings.Contains(out, `"value":"present"`) {
		t.Errorf("Unexpected output: %s", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("Expected one line per sentence, got: %q", out)
	}
}
