// Package chunker splits document text into overlapping chunks that prefer
// sentence boundaries. Offsets are counted in runes so CJK text is cut on
// character boundaries rather than bytes.
package chunker

import (
	"fmt"
	"iter"
	"strings"
	"unicode"

	"github.com/54b3r/healthrag/internal/rag"
)

// Config holds the chunking parameters.
type Config struct {
	// Size is the target chunk length in runes.
	Size int

	// Overlap is the number of runes each chunk after the first shares with
	// the end of its predecessor. Must be smaller than Size.
	Overlap int

	// Lookback bounds how far before the target cut the chunker searches for
	// a sentence terminator. Defaults to Size/4 if zero.
	Lookback int
}

// Chunker cuts documents according to a validated Config. It holds no
// mutable state and is safe for concurrent use.
type Chunker struct {
	size     int
	overlap  int
	lookback int
}

// New validates cfg and returns a Chunker. Invalid parameters are reported
// as rag.ErrConfiguration before any text is processed.
func New(cfg Config) (*Chunker, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("chunker: size must be positive, got %d: %w", cfg.Size, rag.ErrConfiguration)
	}
	if cfg.Overlap < 0 {
		return nil, fmt.Errorf("chunker: overlap must not be negative, got %d: %w", cfg.Overlap, rag.ErrConfiguration)
	}
	if cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("chunker: overlap %d must be smaller than size %d: %w", cfg.Overlap, cfg.Size, rag.ErrConfiguration)
	}
	if cfg.Lookback < 0 {
		return nil, fmt.Errorf("chunker: lookback must not be negative, got %d: %w", cfg.Lookback, rag.ErrConfiguration)
	}
	lookback := cfg.Lookback
	if lookback == 0 {
		lookback = cfg.Size / 4
	}
	return &Chunker{size: cfg.Size, overlap: cfg.Overlap, lookback: lookback}, nil
}

// Size returns the configured target chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks returns a lazy sequence over the chunks of doc. Each range over the
// sequence recomputes the chunks from the start. Blank documents yield
// nothing.
func (c *Chunker) Chunks(doc rag.Document) iter.Seq[rag.Chunk] {
	return func(yield func(rag.Chunk) bool) {
		if strings.TrimSpace(doc.Text) == "" {
			return
		}
		runes := []rune(doc.Text)
		n := len(runes)

		start, prevEnd := 0, 0
		for seq := 0; ; seq++ {
			end := n
			if start+c.size < n {
				end = c.cut(runes, start)
			}

			ch := rag.Chunk{
				DocumentID: doc.ID,
				Seq:        seq,
				Start:      start,
				End:        end,
				Text:       string(runes[start:end]),
			}
			if seq > 0 {
				ch.Overlap = prevEnd - start
			}
			if !yield(ch) || end == n {
				return
			}
			prevEnd = end
			start = end - c.overlap
		}
	}
}

// Split collects Chunks(doc) into a slice.
func (c *Chunker) Split(doc rag.Document) []rag.Chunk {
	var out []rag.Chunk
	for ch := range c.Chunks(doc) {
		out = append(out, ch)
	}
	return out
}

// cut picks the end offset for a chunk starting at start when the text
// extends past the target. The lower bound keeps every chunk at least one
// rune longer than the overlap so the next start always advances.
func (c *Chunker) cut(runes []rune, start int) int {
	target := start + c.size
	lower := max(target-c.lookback, start+c.overlap+1)
	for i := target; i >= lower; i-- {
		if endsSentence(runes, i) {
			return i
		}
	}
	return target
}

// endsSentence reports whether offset i sits right after a sentence
// terminator. Latin punctuation only counts when followed by whitespace or
// the end of the text, so "3.5" and "e.g." inside a word are not cut.
func endsSentence(runes []rune, i int) bool {
	if i <= 0 || i > len(runes) {
		return false
	}
	switch runes[i-1] {
	case '\n', '。', '！', '？', '；':
		return true
	case '.', '!', '?', ';':
		return i == len(runes) || unicode.IsSpace(runes[i])
	}
	return false
}
