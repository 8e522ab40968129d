package chunker

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/contract-intel/backend/internal/storage/models"
)

// Session chunks a document that arrives in pieces. Only windows whose
// boundary can no longer change are emitted; the undecided tail is carried
// into the next Write, so chunks overlap across piece boundaries too.
type Session struct {
	c      *Chunker
	source string

	buf     []rune
	start   int
	lastEnd int
	next    int
	started bool

	// ends caches sentence ends by absolute offset for text up to segmented.
	ends      map[int]bool
	segmented int
}

func (c *Chunker) NewSession(documentID string) *Session {
	return &Session{c: c, source: documentID}
}

func (s *Session) Write(text string) []models.Chunk {
	runes := []rune(strings.ReplaceAll(text, "\r\n", "\n"))
	if !s.started {
		i := 0
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		runes = runes[i:]
		if len(runes) == 0 {
			return nil
		}
		s.started = true
	}

	s.buf = append(s.buf, runes...)

	var out []models.Chunk
	for len(s.buf) >= s.c.settings.Size+lookahead {
		out = append(out, s.emitWindow())
	}
	return out
}

// Flush emits the remaining chunks and resets the session.
func (s *Session) Flush() []models.Chunk {
	n := len(s.buf)
	for n > 0 && unicode.IsSpace(s.buf[n-1]) {
		n--
	}
	s.buf = s.buf[:n]

	var out []models.Chunk
	for len(s.buf) > s.c.settings.Size {
		out = append(out, s.emitWindow())
	}
	if len(s.buf) > 0 && s.start+len(s.buf) > s.lastEnd {
		out = append(out, s.emit(len(s.buf)))
	}

	*s = Session{c: s.c, source: s.source}
	return out
}

func (s *Session) emitWindow() models.Chunk {
	w := s.buf[:min(len(s.buf), s.c.settings.Size+lookahead)]
	end := s.c.boundary(w, s.sentenceEnds(len(w)), s.start)
	chunk := s.emit(end)

	next := s.c.nextStart(w, end)
	s.buf = s.buf[next:]
	s.start += next
	return chunk
}

// sentenceEnds segments the whole buffer once and serves every window that
// fits inside it, so prose runs once per Write rather than once per chunk.
func (s *Session) sentenceEnds(window int) map[int]bool {
	if s.segmented == 0 || s.start+window > s.segmented {
		s.segmented = s.start + len(s.buf)
		s.ends = nil
		if local := segment(s.buf); local != nil {
			s.ends = make(map[int]bool, len(local))
			for p := range local {
				s.ends[s.start+p] = true
			}
		}
	}
	return s.ends
}

func (s *Session) emit(end int) models.Chunk {
	chunk := models.Chunk{
		ID:    chunkID(s.source, s.next),
		Text:  string(s.buf[:end]),
		Index: s.next,
		Start: s.start,
		Metadata: map[string]string{
			models.MetadataSource:     s.source,
			models.MetadataChunkIndex: strconv.Itoa(s.next),
			models.MetadataStartIndex: strconv.Itoa(s.start),
		},
	}
	s.next++
	s.lastEnd = s.start + end
	return chunk
}
