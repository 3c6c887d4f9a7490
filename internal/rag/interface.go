// Package rag defines the shared vocabulary of the retrieval subsystem:
// documents, chunks, per-chunk metadata, search hits, and the interfaces the
// query path depends on. Concrete implementations (index, embedder,
// bootstrap) satisfy these interfaces so consumers never depend on a specific
// backend.
package rag

import (
	"context"
)

// Document is a raw source record as produced by the dataset loader.
// It is immutable once read and consumed exactly once by the chunker.
type Document struct {
	// ID uniquely identifies the record within the dataset.
	ID string

	// Text is the free-text body that gets chunked.
	Text string

	// Fields holds optional structured fields from the source record
	// (e.g. "question", "answer").
	Fields map[string]string
}

// Chunk is a contiguous text segment derived from exactly one Document.
// Offsets are rune offsets into Document.Text.
type Chunk struct {
	// DocumentID is the ID of the Document this chunk was cut from.
	DocumentID string

	// Seq is the zero-based position of this chunk within its document.
	Seq int

	// Start is the rune offset of the first character of the chunk.
	Start int

	// End is the rune offset one past the last character of the chunk.
	End int

	// Overlap is the number of leading runes shared with the previous chunk.
	// Always zero for the first chunk of a document.
	Overlap int

	// Text is the chunk content, i.e. Document.Text[Start:End] in runes.
	Text string
}

// Metadata is the per-chunk sidecar record persisted next to the vectors.
// Its position in the index is the join key with the vector at the same
// position.
type Metadata struct {
	// SourceID is the ID of the source Document.
	SourceID string `json:"source_id"`

	// ChunkID is "<SourceID>/<Seq>", unique across the index.
	ChunkID string `json:"chunk_id"`

	// Seq is the chunk's position within its document.
	Seq int `json:"seq"`

	// Start and End are the chunk's rune span within the document.
	Start int `json:"start"`
	End   int `json:"end"`

	// Text is the chunk content.
	Text string `json:"text"`

	// Tags holds source-specific labels (question excerpt, topic, ...).
	Tags map[string]string `json:"tags,omitempty"`
}

// Hit is a single nearest-neighbour match returned by an index search.
type Hit struct {
	// Position is the insertion position of the matched vector.
	Position int

	// Score is the inner product between the query and the stored vector.
	Score float32

	// Record is the metadata stored at Position.
	Record Metadata
}

// Result is the consumer-facing search result: the entire surface the
// prompt-construction layer is allowed to depend on.
type Result struct {
	// ChunkText is the retrieved chunk content.
	ChunkText string `json:"chunk_text"`

	// SourceID identifies the document the chunk came from.
	SourceID string `json:"source_id"`

	// Score is the cosine similarity with the query (vectors are unit length).
	Score float32 `json:"score"`

	// Tags carries the record's source-specific labels.
	Tags map[string]string `json:"tags,omitempty"`
}

// Embedder is the embedding computation provider capability: a batch of
// texts in, a parallel batch of fixed-dimension vectors out.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ModelIdentifier is optionally implemented by an Embedder to report a
// stable identity for the model producing its vectors. The identity is
// recorded in the index manifest so a model change forces a rebuild.
type ModelIdentifier interface {
	// ModelID returns an identifier such as "ollama:nomic-embed-text".
	ModelID() string
}

// QueryEmbedder turns a single query string into a unit-length vector.
type QueryEmbedder interface {
	// EmbedQuery returns the L2-normalized embedding of text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs an exact top-k inner-product search over stored vectors.
// Implementations must be safe to call from multiple goroutines.
type Searcher interface {
	// Search returns up to k hits ordered by descending score, ties broken
	// by ascending insertion position.
	Search(query []float32, k int) ([]Hit, error)
}

// Retriever is the high-level query interface: embed the query text and
// return the top-k most similar chunks.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the top-k most relevant chunks for the given query.
	Retrieve(ctx context.Context, query string, topK int) ([]Result, error)
}
