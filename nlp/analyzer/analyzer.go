// Package analyzer supplies, per raw token, the morphologically admissible
// candidate readings used as auxiliary features by the tagger. The analysis
// backend is a black box behind the Analyzer contract.
package analyzer

import (
	"bufio"
	"os"
	"strings"

	"gramtag/nlp/types"

	"github.com/pkg/errors"
)

// Analyzer returns the candidate morphologies for each token of a sentence.
// The result slice length always equals the token count; a token with no
// admissible reading gets a nil entry.
type Analyzer interface {
	Analyze(tokens []string) ([]types.Morphologies, error)
}

// DictAnalyzer looks candidate readings up in an in-memory lexicon keyed by
// surface form.
type DictAnalyzer struct {
	lexicon map[string]types.Morphologies
}

// LoadLexicon reads a tab-separated lexicon: form, lemma, and a
// |-separated list of property=value pairs. Multiple lines per form
// accumulate as alternative candidate readings.
//
//	walked	walk	tense=past|mood=indicative
func LoadLexicon(filename string) (*DictAnalyzer, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "opening lexicon %s", filename)
	}
	defer file.Close()

	analyzer := &DictAnalyzer{lexicon: make(map[string]types.Morphologies)}
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 2 {
			return nil, errors.Errorf("lexicon %s: malformed entry at line %d", filename, line)
		}
		form, lemma := fields[0], fields[1]
		properties := make(map[string]string)
		if len(fields) > 2 && fields[2] != "_" {
			for _, pair := range strings.Split(fields[2], "|") {
				kv := strings.SplitN(pair, "=", 2)
				if len(kv) != 2 {
					return nil, errors.Errorf("lexicon %s: malformed feature %q at line %d", filename, pair, line)
				}
				properties[kv[0]] = kv[1]
			}
		}
		morphology := types.Morphology{
			Components: []types.MorphologyComponent{{Lemma: lemma, Properties: properties}},
		}
		analyzer.lexicon[form] = append(analyzer.lexicon[form], morphology)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading lexicon %s", filename)
	}
	return analyzer, nil
}

func (d *DictAnalyzer) Analyze(tokens []string) ([]types.Morphologies, error) {
	analyses := make([]types.Morphologies, len(tokens))
	for i, form := range tokens {
		if candidates, exists := d.lexicon[form]; exists {
			analyses[i] = candidates
		} else if candidates, exists := d.lexicon[strings.ToLower(form)]; exists {
			analyses[i] = candidates
		}
	}
	return analyses, nil
}

// Len reports the number of distinct surface forms in the lexicon.
func (d *DictAnalyzer) Len() int {
	return len(d.lexicon)
}
