package rag

import (
	"errors"
	"fmt"
)

// Error kinds shared across the retrieval subsystem. Callers match them with
// errors.Is; concrete errors wrap them with context.
var (
	// ErrConfiguration reports invalid chunking or embedding parameters.
	ErrConfiguration = errors.New("configuration error")

	// ErrDatasetNotFound reports that no candidate dataset path exists.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrEmbeddingFailure reports a provider failure for a batch.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrIndexNotFound reports a missing vector or metadata artifact.
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexCorrupt reports artifacts that cannot be trusted: count
	// mismatch, inconsistent dimension, unreadable or stale content.
	ErrIndexCorrupt = errors.New("index corrupt")

	// ErrDimensionMismatch reports vectors of differing length.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrZeroVector reports a vector with no direction, which cannot be
	// normalized to unit length.
	ErrZeroVector = errors.New("zero vector")

	// ErrLengthMismatch reports vector and metadata sequences of differing length.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrNotReady reports a search attempted before the index is loaded.
	ErrNotReady = errors.New("index not ready")
)

// BatchError identifies the embedding batch that failed during a build.
type BatchError struct {
	// Start is the position of the first text in the failing batch.
	Start int
	// End is one past the position of the last text in the failing batch.
	End int
	// Err is the underlying provider error.
	Err error
}

// Error implements error.
func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding failure: batch [%d, %d): %v", e.Start, e.End, e.Err)
}

// Unwrap exposes both ErrEmbeddingFailure and the provider cause.
func (e *BatchError) Unwrap() []error {
	return []error{ErrEmbeddingFailure, e.Err}
}

// Build stages reported by BuildError.
const (
	StageDataset  = "dataset"
	StageChunk    = "chunk"
	StageEmbed    = "embed"
	StagePopulate = "populate"
	StagePersist  = "persist"
)

// BuildError records which stage of a corpus build failed.
type BuildError struct {
	// Stage is one of the Stage* constants.
	Stage string
	// Err is the stage's failure.
	Err error
}

// Error implements error.
func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed at %s stage: %v", e.Stage, e.Err)
}

// Unwrap returns the stage failure.
func (e *BuildError) Unwrap() error { return e.Err }
