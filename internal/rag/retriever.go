package rag

import (
	"context"
	"fmt"
	"strings"
)

// DefaultRetriever is the query engine. It embeds the query at retrieval
// time and delegates the nearest-neighbour search to a Searcher.
type DefaultRetriever struct {
	// embedder converts query text to a unit-length vector.
	embedder QueryEmbedder

	// searcher performs the top-k inner-product search.
	searcher Searcher

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever from the given QueryEmbedder and Searcher.
// defaultTopK sets the fallback result count when Retrieve is called with topK=0.
func NewRetriever(embedder QueryEmbedder, searcher Searcher, defaultTopK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &DefaultRetriever{
		embedder:    embedder,
		searcher:    searcher,
		defaultTopK: defaultTopK,
	}, nil
}

// DefaultTopK returns the result count used when Retrieve is called with topK=0.
func (r *DefaultRetriever) DefaultTopK() int { return r.defaultTopK }

// Retrieve embeds the query and returns the top-k most similar chunks.
// topK=0 selects the default; a negative topK yields no results.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("rag: query must not be empty")
	}
	if topK == 0 {
		topK = r.defaultTopK
	}
	if topK < 0 {
		return []Result{}, nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}

	hits, err := r.searcher.Search(vec, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ChunkText: h.Record.Text,
			SourceID:  h.Record.SourceID,
			Score:     h.Score,
			Tags:      h.Record.Tags,
		})
	}
	return results, nil
}
