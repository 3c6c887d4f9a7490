package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/54b3r/healthrag/internal/dataset"
	"github.com/54b3r/healthrag/internal/rag"
)

// Defaults for the retrieval settings.
const (
	DefaultChunkSize        = 1000
	DefaultChunkOverlap     = 200
	DefaultBatchSize        = 32
	DefaultWorkers          = 4
	DefaultTopK             = 5
	DefaultIndexDir         = "vector_db"
	DefaultMaxContextTokens = 1000
)

// JournalDisabled is the HEALTHRAG_JOURNAL_DB value that turns the build
// journal off.
const JournalDisabled = "disabled"

// Retrieval is the resolved, validated retrieval configuration.
type Retrieval struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int
	// ChunkOverlap is the number of characters shared by neighbouring chunks.
	ChunkOverlap int
	// ChunkLookback bounds the backward scan for a sentence boundary.
	ChunkLookback int
	// BatchSize is the number of texts per embedding request.
	BatchSize int
	// Workers is the number of embedding requests in flight.
	Workers int
	// TopK is the default number of search results.
	TopK int
	// MaxContextTokens is the default packed context budget.
	MaxContextTokens int
	// IndexDir is the index directory.
	IndexDir string
	// DatasetPaths are the candidate dataset files, probed in order.
	DatasetPaths []string
	// JournalDB is the journal path; empty selects the default location and
	// JournalDisabled turns the journal off.
	JournalDB string
}

// RetrievalFromEnv resolves the retrieval settings from the environment.
// Malformed numbers and inconsistent chunking parameters are reported as
// rag.ErrConfiguration before any work starts.
func RetrievalFromEnv() (Retrieval, error) {
	var (
		r    Retrieval
		errs []string
	)
	intVar := func(key string, def int) int {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q is not an integer", key, v))
			return def
		}
		return n
	}

	r.ChunkSize = intVar("HEALTHRAG_CHUNK_SIZE", DefaultChunkSize)
	r.ChunkOverlap = intVar("HEALTHRAG_CHUNK_OVERLAP", DefaultChunkOverlap)
	r.ChunkLookback = intVar("HEALTHRAG_CHUNK_LOOKBACK", 0)
	r.BatchSize = intVar("EMBEDDING_BATCH_SIZE", DefaultBatchSize)
	r.Workers = intVar("EMBEDDING_WORKERS", DefaultWorkers)
	r.TopK = intVar("HEALTHRAG_TOP_K", DefaultTopK)
	r.MaxContextTokens = intVar("HEALTHRAG_MAX_CONTEXT_TOKENS", DefaultMaxContextTokens)

	r.IndexDir = os.Getenv("HEALTHRAG_INDEX_DIR")
	if r.IndexDir == "" {
		r.IndexDir = DefaultIndexDir
	}
	r.DatasetPaths = filepath.SplitList(os.Getenv("HEALTHRAG_DATASET_PATHS"))
	if len(r.DatasetPaths) == 0 {
		r.DatasetPaths = dataset.DefaultPaths
	}
	r.JournalDB = os.Getenv("HEALTHRAG_JOURNAL_DB")

	switch {
	case r.ChunkSize <= 0:
		errs = append(errs, fmt.Sprintf("chunk size must be positive, got %d", r.ChunkSize))
	case r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize:
		errs = append(errs, fmt.Sprintf("chunk overlap must be in [0, %d), got %d", r.ChunkSize, r.ChunkOverlap))
	}
	if r.ChunkLookback < 0 {
		errs = append(errs, fmt.Sprintf("chunk lookback must not be negative, got %d", r.ChunkLookback))
	}
	if r.BatchSize <= 0 {
		errs = append(errs, fmt.Sprintf("embedding batch size must be positive, got %d", r.BatchSize))
	}
	if r.Workers <= 0 {
		errs = append(errs, fmt.Sprintf("embedding workers must be positive, got %d", r.Workers))
	}
	if r.TopK <= 0 {
		errs = append(errs, fmt.Sprintf("top k must be positive, got %d", r.TopK))
	}
	if r.MaxContextTokens <= 0 {
		errs = append(errs, fmt.Sprintf("max context tokens must be positive, got %d", r.MaxContextTokens))
	}

	if len(errs) > 0 {
		return Retrieval{}, fmt.Errorf("config: %s: %w", strings.Join(errs, "; "), rag.ErrConfiguration)
	}
	return r, nil
}
