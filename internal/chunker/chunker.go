package chunker

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"

	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/pkg/utils"
)

const lookahead = 64

type Settings struct {
	Size    int
	Overlap int
}

func DefaultSettings() Settings {
	return Settings{Size: 1000, Overlap: 100}
}

type breakClass int

const (
	breakNone breakClass = iota
	breakWord
	breakSentence
	breakParagraph
)

// Chunker splits text into windows of at most Size runes. Consecutive chunks
// share between Overlap and 2*Overlap runes.
type Chunker struct {
	settings Settings
	minLen   int
}

func New(settings Settings) (*Chunker, error) {
	if settings.Size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", settings.Size)
	}
	if settings.Overlap < 0 || 2*settings.Overlap >= settings.Size {
		return nil, fmt.Errorf("chunk overlap %d must be non-negative and less than half of size %d", settings.Overlap, settings.Size)
	}

	return &Chunker{
		settings: settings,
		minLen:   max(settings.Size/2, 2*settings.Overlap+1),
	}, nil
}

func (c *Chunker) Settings() Settings {
	return c.settings
}

func (c *Chunker) Chunk(documentID, text string) []models.Chunk {
	s := c.NewSession(documentID)
	chunks := s.Write(strings.TrimSpace(text))
	return append(chunks, s.Flush()...)
}

// boundary picks the end of the chunk starting at w[0]. len(w) must exceed Size.
// ends holds sentence ends as offsets from base; nil disables the check.
func (c *Chunker) boundary(w []rune, ends map[int]bool, base int) int {
	size := c.settings.Size

	best, bestClass := size, breakNone
	for p := c.minLen + 1; p <= size && p < len(w); p++ {
		if !unicode.IsSpace(w[p]) || unicode.IsSpace(w[p-1]) {
			continue
		}
		if class := classify(w, p, ends == nil || ends[base+p]); class >= bestClass {
			best, bestClass = p, class
		}
	}

	return best
}

func (c *Chunker) nextStart(w []rune, end int) int {
	target := end - c.settings.Overlap
	lo := max(1, target-c.settings.Overlap)
	for q := target; q >= lo; q-- {
		if !unicode.IsSpace(w[q]) && unicode.IsSpace(w[q-1]) {
			return q
		}
	}
	return target
}

func classify(w []rune, p int, sentenceEnd bool) breakClass {
	newlines := 0
	for q := p; q < len(w) && unicode.IsSpace(w[q]); q++ {
		if w[q] == '\n' {
			newlines++
		}
	}

	switch {
	case newlines >= 2:
		return breakParagraph
	case newlines == 1:
		return breakSentence
	case sentenceEnd && terminal(w, p):
		return breakSentence
	default:
		return breakWord
	}
}

func terminal(w []rune, p int) bool {
	q := p - 1
	for i := 0; i < 2 && q > 0 && strings.ContainsRune(`"')]”’`, w[q]); i++ {
		q--
	}
	return strings.ContainsRune(".!?:;", w[q])
}

// segment is swapped in tests to count segmentation passes.
var segment = sentenceEnds

// sentenceEnds returns the rune offsets at which prose closes a sentence, or
// nil when segmentation fails.
func sentenceEnds(w []rune) map[int]bool {
	text := string(w)
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		return nil
	}

	ends := make(map[int]bool)
	cursor, runes := 0, 0
	for _, sent := range doc.Sentences() {
		st := strings.TrimSpace(sent.Text)
		if st == "" {
			continue
		}
		idx := strings.Index(text[cursor:], st)
		if idx < 0 {
			continue
		}
		runes += utf8.RuneCountInString(text[cursor : cursor+idx+len(st)])
		cursor += idx + len(st)
		ends[runes] = true
	}

	return ends
}

func chunkID(documentID string, index int) string {
	return utils.HashParts(documentID, strconv.Itoa(index))
}
