package embedder

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/healthrag/internal/rag"
)

// GeneratorConfig holds the batching parameters of a Generator.
type GeneratorConfig struct {
	// BatchSize is the number of texts sent to the provider per call.
	// Defaults to 32 if zero.
	BatchSize int

	// Workers bounds the number of batches in flight. Defaults to 1 if zero.
	Workers int
}

// Generator turns ordered chunk texts into ordered, unit-length vectors by
// calling a rag.Embedder in fixed-size batches. Output position i always
// holds the vector for input position i, whatever order batches complete in.
type Generator struct {
	// embedder is the underlying provider.
	embedder rag.Embedder
	// batchSize is the resolved batch size.
	batchSize int
	// workers is the resolved concurrency limit.
	workers int
}

// ProgressFunc receives the number of embedded batches and the total. Calls
// are serialized and done never decreases.
type ProgressFunc func(done, total int)

// NewGenerator constructs a Generator. Negative parameters are rejected as
// rag.ErrConfiguration.
func NewGenerator(e rag.Embedder, cfg GeneratorConfig) (*Generator, error) {
	if e == nil {
		return nil, fmt.Errorf("embedder: generator requires an embedder")
	}
	if cfg.BatchSize < 0 || cfg.Workers < 0 {
		return nil, fmt.Errorf("embedder: batch size and workers must not be negative: %w", rag.ErrConfiguration)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	return &Generator{embedder: e, batchSize: cfg.BatchSize, workers: cfg.Workers}, nil
}

// BatchSize returns the resolved batch size.
func (g *Generator) BatchSize() int { return g.batchSize }

// Batches returns the number of batches needed for n texts.
func (g *Generator) Batches(n int) int { return (n + g.batchSize - 1) / g.batchSize }

// ModelID reports the provider's model identity, or "unknown" when the
// provider does not implement rag.ModelIdentifier.
func (g *Generator) ModelID() string {
	if m, ok := g.embedder.(rag.ModelIdentifier); ok {
		return m.ModelID()
	}
	return "unknown"
}

// Embedder returns the underlying provider.
func (g *Generator) Embedder() rag.Embedder { return g.embedder }

// Generate embeds texts and returns one normalized vector per text. The
// context is checked before each batch is dispatched; cancellation returns
// the context error. A provider failure returns a *rag.BatchError naming the
// failing batch range and stops dispatching further batches.
func (g *Generator) Generate(ctx context.Context, texts []string, progress ProgressFunc) ([][]float32, error) {
	out := make([][]float32, len(texts))
	total := g.Batches(len(texts))
	if total == 0 {
		return out, nil
	}

	var (
		mu   sync.Mutex
		done int
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)

	for b := range total {
		if gctx.Err() != nil {
			break
		}
		start := b * g.batchSize
		end := min(start+g.batchSize, len(texts))
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vecs, err := g.embedBatch(gctx, texts[start:end])
			if err != nil {
				return &rag.BatchError{Start: start, End: end, Err: err}
			}
			copy(out[start:end], vecs)

			if progress != nil {
				mu.Lock()
				done++
				progress(done, total)
				mu.Unlock()
			}
			return nil
		})
	}

	err := eg.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a single query text and normalizes it.
func (g *Generator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedder: query: %w", err)
	}
	return vecs[0], nil
}

// embedBatch calls the provider once and normalizes the result.
func (g *Generator) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	raw, err := g.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(raw), len(texts))
	}
	vecs := make([][]float32, len(raw))
	for i, v := range raw {
		if len(v) == 0 {
			return nil, fmt.Errorf("provider returned an empty vector for text %d", i)
		}
		unit, norm := rag.NormalizeL2(v)
		if norm == 0 {
			return nil, fmt.Errorf("provider returned a zero vector for text %d: %w", i, rag.ErrZeroVector)
		}
		vecs[i] = unit
	}
	return vecs, nil
}
