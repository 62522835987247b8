// Package splitter breaks long text into ordered, overlapping chunks sized in tokens.
//
// Chunks are contiguous byte spans of the input. Consecutive chunks may overlap
// but never leave a gap, so the input can always be rebuilt with Reconstruct.
package splitter

import (
	"strings"
	"unicode/utf8"

	"github.com/bull/ragindex/internal/errs"
)

const (
	// DefaultChunkSize is the maximum number of tokens per chunk.
	DefaultChunkSize = 200
	// DefaultChunkOverlap is the number of tokens shared by consecutive chunks.
	DefaultChunkOverlap = 50
)

// DefaultSeparators is the split hierarchy: paragraph, line, sentence, word.
// Text that still does not fit after the last separator is split per character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// Chunk is one span of the source text. Start and End are byte offsets.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Splitter splits text recursively on a separator hierarchy.
type Splitter struct {
	size       int
	overlap    int
	separators []string
	counter    TokenCounter
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the maximum chunk size in tokens.
func WithChunkSize(size int) Option {
	return func(s *Splitter) { s.size = size }
}

// WithChunkOverlap sets the overlap between consecutive chunks in tokens.
func WithChunkOverlap(overlap int) Option {
	return func(s *Splitter) { s.overlap = overlap }
}

// WithSeparators replaces the separator hierarchy.
func WithSeparators(seps ...string) Option {
	return func(s *Splitter) { s.separators = seps }
}

// WithTokenCounter sets how chunk sizes are measured.
func WithTokenCounter(c TokenCounter) Option {
	return func(s *Splitter) {
		if c != nil {
			s.counter = c
		}
	}
}

// New creates a splitter. It fails when overlap is not smaller than size.
func New(opts ...Option) (*Splitter, error) {
	s := &Splitter{
		size:       DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
		counter:    ApproxCounter{},
	}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case s.size <= 0:
		return nil, errs.Validationf("chunk size must be > 0, got %d", s.size)
	case s.overlap < 0:
		return nil, errs.Validationf("chunk overlap must be >= 0, got %d", s.overlap)
	case s.overlap >= s.size:
		return nil, errs.Validationf("chunk overlap %d must be smaller than chunk size %d", s.overlap, s.size)
	}
	for _, sep := range s.separators {
		if sep == "" {
			return nil, errs.Validationf("separators must not be empty")
		}
	}
	return s, nil
}

// ChunkSize returns the configured maximum chunk size.
func (s *Splitter) ChunkSize() int { return s.size }

// ChunkOverlap returns the configured overlap.
func (s *Splitter) ChunkOverlap() int { return s.overlap }

type span struct{ start, end int }

// Split returns the chunks of text in order. Identical input and
// configuration always yield identical chunks.
func (s *Splitter) Split(text string) []Chunk {
	if text == "" {
		return nil
	}

	var pieces []span
	s.splitSpan(text, span{0, len(text)}, 0, &pieces)

	var chunks []Chunk
	emit := func(from, to int) {
		start, end := pieces[from].start, pieces[to-1].end
		chunks = append(chunks, Chunk{Index: len(chunks), Text: text[start:end], Start: start, End: end})
	}

	first := 0
	for next := 1; next < len(pieces); next++ {
		if s.count(text, pieces[first].start, pieces[next].end) <= s.size {
			continue
		}
		emit(first, next)
		first = s.overlapStart(text, pieces, first, next)
	}
	emit(first, len(pieces))
	return chunks
}

// overlapStart picks the first piece of the chunk following pieces[first:next].
// It keeps as many trailing pieces as fit in the overlap while leaving room
// for pieces[next], and always moves past first.
func (s *Splitter) overlapStart(text string, pieces []span, first, next int) int {
	for k := first + 1; k < next; k++ {
		if s.count(text, pieces[k].start, pieces[next-1].end) <= s.overlap &&
			s.count(text, pieces[k].start, pieces[next].end) <= s.size {
			return k
		}
	}
	return next
}

// splitSpan appends the atomic pieces of text[sp] to out. A piece either fits
// the chunk size or cannot be split further.
func (s *Splitter) splitSpan(text string, sp span, level int, out *[]span) {
	if s.count(text, sp.start, sp.end) <= s.size {
		*out = append(*out, sp)
		return
	}
	if level >= len(s.separators) {
		splitRunes(text, sp, out)
		return
	}

	parts := splitKeep(text, sp, s.separators[level])
	if len(parts) == 1 {
		s.splitSpan(text, sp, level+1, out)
		return
	}
	for _, p := range parts {
		s.splitSpan(text, p, level+1, out)
	}
}

func (s *Splitter) count(text string, start, end int) int {
	return s.counter.CountTokens(text[start:end])
}

// splitKeep splits text[sp] after each occurrence of sep, keeping the
// separator with the preceding part.
func splitKeep(text string, sp span, sep string) []span {
	var parts []span
	start := sp.start
	for start < sp.end {
		i := strings.Index(text[start:sp.end], sep)
		if i < 0 {
			break
		}
		end := start + i + len(sep)
		parts = append(parts, span{start, end})
		start = end
	}
	if start < sp.end {
		parts = append(parts, span{start, sp.end})
	}
	return parts
}

func splitRunes(text string, sp span, out *[]span) {
	for i := sp.start; i < sp.end; {
		_, w := utf8.DecodeRuneInString(text[i:sp.end])
		*out = append(*out, span{i, i + w})
		i += w
	}
}

// Reconstruct concatenates the non-overlapping part of each chunk in order.
func Reconstruct(chunks []Chunk) string {
	var b strings.Builder
	covered := 0
	for i, c := range chunks {
		from := c.Start
		if i > 0 && covered > from {
			from = covered
		}
		if from < c.End {
			b.WriteString(c.Text[from-c.Start:])
		}
		if c.End > covered {
			covered = c.End
		}
	}
	return b.String()
}
