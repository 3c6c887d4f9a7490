package embedder

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
)

// EinoEmbedder adapts any eino embedding.Embedder (OpenAI, Ark, Ollama,
// Gemini components from eino-ext) to rag.Embedder.
type EinoEmbedder struct {
	// inner is the wrapped eino component.
	inner embedding.Embedder
	// modelID is reported in the index manifest.
	modelID string
	// opts are passed to every EmbedStrings call.
	opts []embedding.Option
}

// NewEinoEmbedder wraps inner. modelID must identify the model behind inner
// so a model change is detected on load.
func NewEinoEmbedder(inner embedding.Embedder, modelID string, opts ...embedding.Option) (*EinoEmbedder, error) {
	if inner == nil {
		return nil, fmt.Errorf("eino embedder: inner embedder must not be nil")
	}
	if modelID == "" {
		return nil, fmt.Errorf("eino embedder: model id must not be empty")
	}
	return &EinoEmbedder{inner: inner, modelID: "eino:" + modelID, opts: opts}, nil
}

// ModelID identifies the model in the index manifest.
func (e *EinoEmbedder) ModelID() string { return e.modelID }

// Embed converts a batch of texts into float32 embeddings.
func (e *EinoEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.inner.EmbedStrings(ctx, texts, e.opts...)
	if err != nil {
		return nil, fmt.Errorf("eino embedder: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("eino embedder: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		f := make([]float32, len(v))
		for j, x := range v {
			f[j] = float32(x)
		}
		out[i] = f
	}
	return out, nil
}
