// Package ingestion implements the corpus build: it reads the source dataset,
// chunks every document, embeds the chunks in batches, populates a fresh
// index and persists it. The build is invoked by `healthrag build` and by the
// bootstrap controller when the on-disk index is missing or unusable.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/healthrag/internal/chunker"
	"github.com/54b3r/healthrag/internal/dataset"
	"github.com/54b3r/healthrag/internal/embedder"
	"github.com/54b3r/healthrag/internal/index"
	"github.com/54b3r/healthrag/internal/logging"
	"github.com/54b3r/healthrag/internal/rag"
	"github.com/54b3r/healthrag/internal/store"
)

// Config holds the dependencies and settings of a Builder.
type Config struct {
	// Chunker splits documents. Required.
	Chunker *chunker.Chunker

	// Generator embeds chunk texts. Required.
	Generator *embedder.Generator

	// DatasetPaths is the ordered list of candidate dataset files.
	// Defaults to dataset.DefaultPaths if empty.
	DatasetPaths []string

	// IndexDir is the directory the index is persisted to. Required.
	IndexDir string

	// ChunkWorkers bounds the number of documents chunked concurrently.
	// Defaults to 4 if zero.
	ChunkWorkers int

	// Journal records every build attempt. Optional.
	Journal store.Journal

	// Metrics receives build metrics. Optional.
	Metrics *Metrics
}

// Progress is a snapshot of a running build. Counters never decrease within
// one build.
type Progress struct {
	// Stage is the rag.Stage* constant currently running.
	Stage string
	// Documents is the number of documents chunked so far.
	Documents int
	// TotalDocuments is the number of documents in the dataset.
	TotalDocuments int
	// Chunks is the number of chunks produced so far.
	Chunks int
	// Batches is the number of embedding batches completed.
	Batches int
	// TotalBatches is the number of embedding batches in the build.
	TotalBatches int
}

// ProgressFunc receives build progress. Calls are serialized.
type ProgressFunc func(Progress)

// Stats summarizes a finished build.
type Stats struct {
	// ID identifies the build in the journal.
	ID string
	// DatasetPath is the dataset file that was used.
	DatasetPath string
	// Documents is the number of dataset records read.
	Documents int
	// Chunks is the number of chunks indexed.
	Chunks int
	// Batches is the number of embedding batches completed.
	Batches int
	// ModelID identifies the embedding model.
	ModelID string
	// Duration is the wall-clock build time.
	Duration time.Duration
}

// Builder orchestrates the dataset → chunk → embed → populate → persist flow.
type Builder struct {
	// cfg holds the resolved configuration.
	cfg Config
}

// NewBuilder validates cfg and returns a Builder.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.Chunker == nil {
		return nil, fmt.Errorf("ingestion: chunker must not be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("ingestion: generator must not be nil")
	}
	if cfg.IndexDir == "" {
		return nil, fmt.Errorf("ingestion: index dir must not be empty")
	}
	if len(cfg.DatasetPaths) == 0 {
		cfg.DatasetPaths = dataset.DefaultPaths
	}
	if cfg.ChunkWorkers <= 0 {
		cfg.ChunkWorkers = 4
	}
	return &Builder{cfg: cfg}, nil
}

// IndexDir returns the directory the builder persists to.
func (b *Builder) IndexDir() string { return b.cfg.IndexDir }

// Build runs a full rebuild and persists the result to IndexDir. Failures
// are returned as *rag.BuildError naming the stage. The previous index on
// disk stays intact until the new one is completely written.
func (b *Builder) Build(ctx context.Context, progress ProgressFunc) (*Stats, error) {
	if progress == nil {
		progress = func(Progress) {}
	}
	log := logging.FromContext(ctx)
	stats := &Stats{ID: uuid.NewString(), ModelID: b.cfg.Generator.ModelID()}
	started := time.Now()
	log.Info("ingestion: build started",
		slog.String("build_id", stats.ID),
		slog.String("index_dir", b.cfg.IndexDir),
		slog.String("model_id", stats.ModelID),
	)

	err := b.build(ctx, stats, progress)
	stats.Duration = time.Since(started)

	outcome := store.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = store.OutcomeCanceled
	default:
		outcome = store.OutcomeFailed
	}
	b.cfg.Metrics.observeBuild(string(outcome), stats.Duration)
	b.record(ctx, stats, started, outcome, err)

	if err != nil {
		log.Error("ingestion: build failed",
			slog.String("build_id", stats.ID),
			slog.String("outcome", string(outcome)),
			slog.Any("error", err),
		)
		return nil, err
	}
	b.cfg.Metrics.SetIndexChunks(stats.Chunks)
	log.Info("ingestion: build finished",
		slog.String("build_id", stats.ID),
		slog.String("dataset", stats.DatasetPath),
		slog.Int("documents", stats.Documents),
		slog.Int("chunks", stats.Chunks),
		slog.Int("batches", stats.Batches),
		slog.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (b *Builder) build(ctx context.Context, stats *Stats, progress ProgressFunc) error {
	path, err := dataset.Resolve(b.cfg.DatasetPaths)
	if err != nil {
		return &rag.BuildError{Stage: rag.StageDataset, Err: err}
	}
	stats.DatasetPath = path

	docs, err := dataset.Load(path)
	if err != nil {
		return &rag.BuildError{Stage: rag.StageDataset, Err: err}
	}
	stats.Documents = len(docs)
	p := Progress{Stage: rag.StageDataset, TotalDocuments: len(docs)}
	progress(p)

	chunks, err := b.chunkAll(ctx, docs, &p, progress)
	if err != nil {
		return &rag.BuildError{Stage: rag.StageChunk, Err: err}
	}
	if len(chunks) == 0 {
		return &rag.BuildError{Stage: rag.StageChunk, Err: fmt.Errorf("dataset %s produced no chunks", path)}
	}
	stats.Chunks = len(chunks)

	texts := make([]string, len(chunks))
	records := make([]rag.Metadata, len(chunks))
	tags := make(map[string]map[string]string, len(docs))
	for _, d := range docs {
		tags[d.ID] = recordTags(d)
	}
	for i, c := range chunks {
		texts[i] = c.Text
		records[i] = rag.Metadata{
			SourceID: c.DocumentID,
			ChunkID:  c.DocumentID + "/" + strconv.Itoa(c.Seq),
			Seq:      c.Seq,
			Start:    c.Start,
			End:      c.End,
			Text:     c.Text,
			Tags:     tags[c.DocumentID],
		}
	}

	p.Stage = rag.StageEmbed
	p.TotalBatches = b.cfg.Generator.Batches(len(texts))
	progress(p)
	vectors, err := b.cfg.Generator.Generate(ctx, texts, func(done, total int) {
		stats.Batches = done
		b.cfg.Metrics.batchDone()
		p.Batches = done
		progress(p)
	})
	if err != nil {
		return &rag.BuildError{Stage: rag.StageEmbed, Err: err}
	}

	p.Stage = rag.StagePopulate
	progress(p)
	st := index.New()
	if err := st.Populate(vectors, records); err != nil {
		return &rag.BuildError{Stage: rag.StagePopulate, Err: err}
	}
	st.SetProvenance(index.Provenance{
		ModelID:      stats.ModelID,
		ChunkSize:    b.cfg.Chunker.Size(),
		ChunkOverlap: b.cfg.Chunker.Overlap(),
		DatasetPath:  path,
	})

	if err := ctx.Err(); err != nil {
		return &rag.BuildError{Stage: rag.StagePersist, Err: err}
	}
	p.Stage = rag.StagePersist
	progress(p)
	if err := st.Persist(b.cfg.IndexDir); err != nil {
		return &rag.BuildError{Stage: rag.StagePersist, Err: err}
	}
	return nil
}

// chunkAll chunks documents on a bounded worker pool and concatenates the
// results in document order.
func (b *Builder) chunkAll(ctx context.Context, docs []rag.Document, p *Progress, progress ProgressFunc) ([]rag.Chunk, error) {
	perDoc := make([][]rag.Chunk, len(docs))
	results := make(chan int, len(docs))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.cfg.ChunkWorkers)
	go func() {
		for i := range docs {
			if gctx.Err() != nil {
				break
			}
			eg.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				perDoc[i] = b.cfg.Chunker.Split(docs[i])
				results <- i
				return nil
			})
		}
		_ = eg.Wait()
		close(results)
	}()

	// progress is reported from this goroutine only
	for i := range results {
		p.Documents++
		p.Chunks += len(perDoc[i])
		p.Stage = rag.StageChunk
		progress(*p)
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []rag.Chunk
	for _, cs := range perDoc {
		out = append(out, cs...)
	}
	return out, nil
}

// record writes the attempt to the journal. Journal failures are logged and
// never fail the build.
func (b *Builder) record(ctx context.Context, stats *Stats, started time.Time, outcome store.Outcome, buildErr error) {
	if b.cfg.Journal == nil {
		return
	}
	r := store.BuildRecord{
		ID:          stats.ID,
		StartedAt:   started,
		FinishedAt:  started.Add(stats.Duration),
		Outcome:     outcome,
		DatasetPath: stats.DatasetPath,
		Documents:   stats.Documents,
		Chunks:      stats.Chunks,
		Batches:     stats.Batches,
		ModelID:     stats.ModelID,
	}
	if buildErr != nil {
		r.Error = buildErr.Error()
	}
	// the build context may already be canceled
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.cfg.Journal.Record(jctx, r); err != nil {
		logging.FromContext(ctx).Warn("ingestion: could not record build in journal",
			slog.String("build_id", stats.ID),
			slog.Any("error", err),
		)
	}
}
