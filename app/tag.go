package app

import (
	"bufio"
	"log"
	"os"
	"strings"
	"unicode/utf8"

	"gramtag/nlp/analyzer"
	"gramtag/nlp/format/jsonl"
	"gramtag/nlp/tagger"
	"gramtag/nlp/types"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
)

var rawInput bool

// readRawSentences tokenizes plain text input on whitespace, one sentence per
// line, assigning rune-offset spans as if tokens were single-space separated.
func readRawSentences(filename string) ([]types.Sentence, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var sentences []types.Sentence
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		forms := strings.Fields(scanner.Text())
		if len(forms) == 0 {
			continue
		}
		tokens := make([]types.Token, len(forms))
		position := 0
		for i, form := range forms {
			length := utf8.RuneCountInString(form)
			tokens[i] = types.Token{Form: form, Start: position, End: position + length}
			position += length + 1
		}
		sentences = append(sentences, types.Sentence{Tokens: tokens})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sentences, nil
}

func buildAnalyzer() analyzer.Analyzer {
	if len(lexiconFile) > 0 {
		if !VerifyExists(lexiconFile) {
			os.Exit(1)
		}
		dict, err := analyzer.LoadLexicon(lexiconFile)
		if err != nil {
			log.Fatalln("Failed loading lexicon:", err)
		}
		if allOut {
			log.Println("Lexicon:\tLoaded", dict.Len(), "forms from", lexiconFile)
		}
		return dict
	}
	if len(analyzerURL) > 0 {
		if allOut {
			log.Println("Analyzer:\tUsing remote analyzer at", analyzerURL)
		}
		return analyzer.NewHTTPAnalyzer(analyzerURL)
	}
	return nil
}

func loadTagger() *tagger.Tagger {
	if !VerifyExists(modelFile) {
		os.Exit(1)
	}
	serialized := ReadModel(modelFile)
	if allOut {
		log.Println("Model:\tLoaded", modelFile, "run id", serialized.RunID)
	}
	model, err := tagger.Thaw(serialized.Model)
	if err != nil {
		log.Fatalln("Failed restoring model:", err)
	}
	return model
}

func TagExamples(cmd *commander.Command, args []string) error {
	REQUIRED_FLAGS := []string{"m", "in", "os"}
	VerifyFlags(cmd, REQUIRED_FLAGS)
	if !VerifyExists(input) {
		os.Exit(1)
	}

	model := loadTagger()
	candidates := buildAnalyzer()

	var sentences []types.Sentence
	var err error
	if rawInput {
		sentences, err = readRawSentences(input)
	} else {
		sentences, err = jsonl.ReadFile(input, jsonl.WithLemmaSeparator(lemmaSeparator))
	}
	if err != nil {
		log.Println(err)
		return err
	}
	if allOut {
		log.Println("Read", len(sentences), "sentence(s) from", input)
	}

	tagged := make([]jsonl.TaggedSentence, len(sentences))
	for i := range sentences {
		sentence := &sentences[i]
		forms := sentence.Forms()

		var analyses []types.Morphologies
		if constrained {
			analyses = sentenceAnalyses(sentence, candidates)
		}

		var predictions []types.PropertyPredictions
		var predictErr error
		if analyses != nil {
			predictions, predictErr = model.PredictConstrained(forms, analyses)
		} else {
			predictions, predictErr = model.Predict(forms)
		}
		if predictErr != nil {
			log.Printf("Failed tagging sentence %d: %v", i+1, predictErr)
			return predictErr
		}
		tagged[i] = jsonl.TaggedSentence{Tokens: sentence.Tokens, Predictions: predictions}
	}

	if err := jsonl.WriteTaggedFile(output, tagged); err != nil {
		log.Println(err)
		return err
	}
	if allOut {
		log.Println("Wrote", len(tagged), "tagged sentence(s) to", output)
	}
	return nil
}

// sentenceAnalyses prefers candidate analyses already present on the tokens;
// otherwise it consults the configured analyzer, if any.
func sentenceAnalyses(sentence *types.Sentence, candidates analyzer.Analyzer) []types.Morphologies {
	analyses := make([]types.Morphologies, len(sentence.Tokens))
	found := false
	for i, token := range sentence.Tokens {
		if len(token.Morphologies) > 0 {
			analyses[i] = token.Morphologies
			found = true
		}
	}
	if found {
		return analyses
	}
	if candidates == nil {
		return nil
	}
	analyses, err := candidates.Analyze(sentence.Forms())
	if err != nil {
		log.Println("Analyzer error, falling back to unconstrained prediction:", err)
		return nil
	}
	return analyses
}

func TagCmd() *commander.Command {
	cmd := &commander.Command{
		Run:       TagExamples,
		UsageLine: "tag <file options> [arguments]",
		Short:     "tags grammatical properties using a trained model",
		Long: `
tags grammatical properties using a trained model

	$ ./gramtag tag -in <input file> -os <output file> -m <model file> [options]

`,
		Flag: *flag.NewFlagSet("tag", flag.ExitOnError),
	}
	cmd.Flag.StringVar(&input, "in", "", "Input file (JSON lines, or plain text with -raw)")
	cmd.Flag.StringVar(&output, "os", "", "Output file (tagged JSON lines)")
	cmd.Flag.StringVar(&modelFile, "m", "model.gob", "Model file")
	cmd.Flag.BoolVar(&rawInput, "raw", false, "Input is whitespace-tokenized plain text, one sentence per line")
	cmd.Flag.StringVar(&lexiconFile, "lex", "", "Lexicon file for candidate analyses (TSV)")
	cmd.Flag.StringVar(&analyzerURL, "analyzer", "", "Remote analyzer service URL")
	cmd.Flag.BoolVar(&constrained, "constrain", false, "Constrain predictions to candidate-licensed values")
	cmd.Flag.StringVar(&lemmaSeparator, "lemmasep", jsonl.DefaultLemmaSeparator, "Separator between split sub-lemmas")
	return cmd
}
