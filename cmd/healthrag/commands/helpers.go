package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/healthrag/internal/bootstrap"
	"github.com/54b3r/healthrag/internal/chunker"
	"github.com/54b3r/healthrag/internal/config"
	"github.com/54b3r/healthrag/internal/embedder"
	"github.com/54b3r/healthrag/internal/ingestion"
	"github.com/54b3r/healthrag/internal/logging"
	"github.com/54b3r/healthrag/internal/rag"
	"github.com/54b3r/healthrag/internal/store"
)

// app bundles the components every retrieval command needs.
type app struct {
	cfg        config.Retrieval
	embedder   rag.Embedder
	generator  *embedder.Generator
	journal    store.Journal
	metrics    *ingestion.Metrics
	controller *bootstrap.Controller
	closers    []func()
}

// Close releases resources opened by newApp in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp resolves configuration from the environment and wires the chunker,
// embedder, journal, builder and controller. Metrics register on reg.
func newApp(ctx context.Context, reg prometheus.Registerer) (*app, error) {
	log := logging.FromContext(ctx)

	cfg, err := config.RetrievalFromEnv()
	if err != nil {
		return nil, err
	}

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", embedder.Backend()))

	ch, err := chunker.New(chunker.Config{
		Size:     cfg.ChunkSize,
		Overlap:  cfg.ChunkOverlap,
		Lookback: cfg.ChunkLookback,
	})
	if err != nil {
		return nil, err
	}

	gen, err := embedder.NewGenerator(emb, embedder.GeneratorConfig{
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		embedder:  emb,
		generator: gen,
		metrics:   ingestion.NewMetrics(reg),
	}

	if j := openJournal(log, cfg.JournalDB); j != nil {
		a.journal = j
		a.closers = append(a.closers, func() { _ = j.Close() })
	}

	builder, err := ingestion.NewBuilder(ingestion.Config{
		Chunker:      ch,
		Generator:    gen,
		DatasetPaths: cfg.DatasetPaths,
		IndexDir:     cfg.IndexDir,
		Journal:      a.journal,
		Metrics:      a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.controller, err = bootstrap.New(bootstrap.Config{
		IndexDir:    cfg.IndexDir,
		Builder:     builder,
		Generator:   gen,
		DefaultTopK: cfg.TopK,
		Metrics:     a.metrics,
		Progress:    progressLogger(log),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// openJournal opens the build journal. HEALTHRAG_JOURNAL_DB overrides the
// default path (~/.healthrag/builds.db); "disabled" turns it off. Failures
// are logged and disable the journal.
func openJournal(log *slog.Logger, dbPath string) *store.SQLiteJournal {
	if dbPath == config.JournalDisabled {
		log.Info("journal: disabled via HEALTHRAG_JOURNAL_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("journal: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	j, err := store.Open(dbPath)
	if err != nil {
		log.Warn("journal: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Debug("journal: store opened", slog.String("path", dbPath))
	return j
}

// progressLogger logs every stage transition and each tenth of the
// embedding batches.
func progressLogger(log *slog.Logger) ingestion.ProgressFunc {
	var (
		stage    string
		lastTick int
	)
	return func(p ingestion.Progress) {
		if p.Stage != stage {
			stage = p.Stage
			lastTick = 0
			log.Info("build: stage",
				slog.String("stage", p.Stage),
				slog.Int("documents", p.TotalDocuments),
				slog.Int("chunks", p.Chunks),
			)
		}
		if p.Stage != rag.StageEmbed || p.TotalBatches == 0 {
			return
		}
		tick := p.Batches * 10 / p.TotalBatches
		if tick > lastTick {
			lastTick = tick
			log.Info("build: embedding",
				slog.Int("batches", p.Batches),
				slog.Int("total_batches", p.TotalBatches),
			)
		}
	}
}
