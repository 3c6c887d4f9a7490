package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// defaultHashDimensions is the vector length of the hashing embedder.
const defaultHashDimensions = 256

// HashEmbedder is a deterministic, offline embedder based on feature hashing
// of lower-cased word unigrams and bigrams. Han characters count as words on
// their own. It needs no model or network and is used for tests and air-gapped
// builds; retrieval quality is lexical, not semantic.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of length dims
// (defaultHashDimensions if dims <= 0).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// ModelID identifies the embedder in the index manifest.
func (e *HashEmbedder) ModelID() string { return fmt.Sprintf("hash:fnv1a@%d", e.dims) }

// Dimensions returns the vector length.
func (e *HashEmbedder) Dimensions() int { return e.dims }

// Embed converts a batch of texts into their corresponding embeddings. Each
// text is embedded independently so batch placement never changes a vector.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	v := make([]float32, e.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		// punctuation-only text still gets a stable, non-zero vector
		tokens = []string{strings.TrimSpace(text)}
	}
	for i, tok := range tokens {
		e.add(v, tok)
		if i > 0 {
			e.add(v, tokens[i-1]+" "+tok)
		}
	}
	return v
}

// add hashes feature into one bucket with a sign bit taken from the hash.
func (e *HashEmbedder) add(v []float32, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	if sum>>63 == 1 {
		v[idx]--
	} else {
		v[idx]++
	}
}

func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
