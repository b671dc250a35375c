package tagger

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"gramtag/util"

	"github.com/pkg/errors"
)

const (
	UnknownPiece       = "[UNK]"
	ContinuationPrefix = "##"
)

// PieceSpan is the inclusive piece-index range of one original token.
type PieceSpan struct {
	Start, End int
}

func (s PieceSpan) Len() int {
	return s.End - s.Start + 1
}

// WordPiece splits token forms into sub-word pieces by greedy longest-match
// against a frozen piece vocabulary. Pieces after the first of a token carry
// the ## continuation prefix.
type WordPiece struct {
	vocab *util.EnumSet
	unk   int
}

func NewWordPiece(vocab *util.EnumSet) (*WordPiece, error) {
	unk, exists := vocab.IndexOf(UnknownPiece)
	if !exists {
		return nil, errors.Errorf("piece vocabulary has no %s entry", UnknownPiece)
	}
	return &WordPiece{vocab: vocab, unk: unk}, nil
}

func (w *WordPiece) VocabSize() int {
	return w.vocab.Len()
}

func (w *WordPiece) Pieces() []string {
	return w.vocab.Values()
}

// Split tokenizes forms into pieces and reports, per original token, the
// inclusive index range of its pieces. The span count always equals the
// token count.
func (w *WordPiece) Split(forms []string) ([]string, []PieceSpan) {
	var pieces []string
	spans := make([]PieceSpan, len(forms))
	for i, form := range forms {
		start := len(pieces)
		pieces = append(pieces, w.splitForm(form)...)
		spans[i] = PieceSpan{Start: start, End: len(pieces) - 1}
	}
	if len(spans) != len(forms) {
		panic(fmt.Sprintf("wordpiece: %d spans for %d tokens", len(spans), len(forms)))
	}
	return pieces, spans
}

func (w *WordPiece) splitForm(form string) []string {
	runes := []rune(form)
	if len(runes) == 0 {
		return []string{UnknownPiece}
	}
	var pieces []string
	pos := 0
	for pos < len(runes) {
		prefix := ""
		if pos > 0 {
			prefix = ContinuationPrefix
		}
		end := len(runes)
		matched := ""
		for end > pos {
			candidate := prefix + string(runes[pos:end])
			if _, exists := w.vocab.IndexOf(candidate); exists {
				matched = candidate
				break
			}
			end--
		}
		if matched == "" {
			pieces = append(pieces, UnknownPiece)
			pos++
			continue
		}
		pieces = append(pieces, matched)
		pos = end
	}
	return pieces
}

// Encode maps pieces to vocabulary ids, falling back to [UNK].
func (w *WordPiece) Encode(pieces []string) []int {
	ids := make([]int, len(pieces))
	for i, piece := range pieces {
		if id, exists := w.vocab.IndexOf(piece); exists {
			ids[i] = id
		} else {
			ids[i] = w.unk
		}
	}
	return ids
}

// BuildPieceVocab derives a piece vocabulary from a training corpus: the
// unknown marker, every rune (bare and continuation form), then whole forms
// by descending frequency up to maxSize.
func BuildPieceVocab(corpus [][]string, maxSize int) *util.EnumSet {
	counts := make(map[string]int)
	vocab := util.NewEnumSet(maxSize)
	vocab.Add(UnknownPiece)
	for _, forms := range corpus {
		for _, form := range forms {
			counts[form]++
			for i, r := range []rune(form) {
				if i == 0 {
					vocab.Add(string(r))
				} else {
					vocab.Add(ContinuationPrefix + string(r))
				}
			}
		}
	}
	forms := make([]string, 0, len(counts))
	for form := range counts {
		forms = append(forms, form)
	}
	sort.Slice(forms, func(i, j int) bool {
		if counts[forms[i]] != counts[forms[j]] {
			return counts[forms[i]] > counts[forms[j]]
		}
		return forms[i] < forms[j]
	})
	for _, form := range forms {
		if vocab.Len() >= maxSize {
			break
		}
		vocab.Add(form)
	}
	vocab.Frozen = true
	return vocab
}

// LoadPieceVocab reads one piece per line.
func LoadPieceVocab(filename string) (*util.EnumSet, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "opening piece vocabulary %s", filename)
	}
	defer file.Close()
	vocab := util.NewEnumSet(32000)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		piece := strings.TrimSpace(scanner.Text())
		if len(piece) > 0 {
			vocab.Add(piece)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading piece vocabulary %s", filename)
	}
	vocab.Frozen = true
	return vocab, nil
}

// VocabFromPieces rebuilds a frozen vocabulary from a serialized piece list.
func VocabFromPieces(pieces []string) *util.EnumSet {
	vocab := util.NewEnumSet(len(pieces))
	for _, piece := range pieces {
		vocab.Add(piece)
	}
	vocab.Frozen = true
	return vocab
}
