// Package bootstrap owns the lifecycle of the loaded index. The Controller
// loads the persisted index on startup, rebuilds it from the dataset when it
// is missing or unusable, and gates every search on the index being loaded.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/54b3r/healthrag/internal/embedder"
	"github.com/54b3r/healthrag/internal/index"
	"github.com/54b3r/healthrag/internal/ingestion"
	"github.com/54b3r/healthrag/internal/logging"
	"github.com/54b3r/healthrag/internal/rag"
)

// State is the lifecycle state of a Controller.
type State int32

const (
	// StateUninitialized is the state before Open has run.
	StateUninitialized State = iota
	// StateBuilding means a corpus build is in flight.
	StateBuilding
	// StateLoaded means an index is loaded and searches are served.
	StateLoaded
	// StateFailed means the last load or build failed and no index is loaded.
	StateFailed
)

// String returns the upper-case state name used in logs and status output.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateBuilding:
		return "BUILDING"
	case StateLoaded:
		return "LOADED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText renders the state by name in JSON responses.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateUninitialized; st <= StateFailed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("bootstrap: unknown state %q", b)
}

// IndexBuilder runs a full corpus build that persists to the controller's
// index directory. *ingestion.Builder satisfies it.
type IndexBuilder interface {
	Build(ctx context.Context, progress ingestion.ProgressFunc) (*ingestion.Stats, error)
}

// Config holds the dependencies of a Controller.
type Config struct {
	// IndexDir is the directory the index is loaded from. Required.
	IndexDir string

	// Builder rebuilds the index into IndexDir. Required.
	Builder IndexBuilder

	// Generator embeds queries. Its ModelID must match the one recorded in
	// the index manifest. Required.
	Generator *embedder.Generator

	// DefaultTopK is the result count used when a search passes topK=0.
	DefaultTopK int

	// Metrics receives the loaded index size. Optional.
	Metrics *ingestion.Metrics

	// Progress receives build progress. Optional.
	Progress ingestion.ProgressFunc
}

// Status is a point-in-time snapshot of a Controller.
type Status struct {
	// State is the current lifecycle state.
	State State `json:"state"`
	// LastError is the most recent load or build failure, if any.
	LastError string `json:"last_error,omitempty"`
	// Manifest describes the loaded index. Nil unless an index is loaded.
	Manifest *index.Manifest `json:"manifest,omitempty"`
}

// Controller is the state machine around the index. All methods are safe for
// concurrent use; Open and Rebuild are serialized.
type Controller struct {
	cfg Config

	// lifecycle serializes Open and Rebuild.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	state     State
	lastErr   error
	store     *index.Store
	retriever *rag.DefaultRetriever
}

// New validates cfg and returns a Controller in StateUninitialized.
func New(cfg Config) (*Controller, error) {
	if cfg.IndexDir == "" {
		return nil, fmt.Errorf("bootstrap: index dir must not be empty")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("bootstrap: builder must not be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("bootstrap: generator must not be nil")
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	return &Controller{cfg: cfg}, nil
}

// Open loads the persisted index. A missing or corrupt index, or one built
// with a different embedding model, is rebuilt once and loaded again. Any
// other failure, or a failing rebuild, leaves the controller in StateFailed
// and is returned with its cause. Open on a loaded controller is a no-op.
func (c *Controller) Open(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() == StateLoaded {
		return nil
	}
	log := logging.FromContext(ctx)

	st, err := c.load()
	if err == nil {
		if err := c.setLoaded(st, nil); err != nil {
			c.setFailed(err)
			return err
		}
		log.Info("bootstrap: index loaded",
			slog.String("index_dir", c.cfg.IndexDir),
			slog.Int("chunks", st.Len()),
			slog.Int("dim", st.Dim()),
		)
		return nil
	}
	if !errors.Is(err, rag.ErrIndexNotFound) && !errors.Is(err, rag.ErrIndexCorrupt) {
		c.setFailed(err)
		return err
	}

	log.Warn("bootstrap: index unusable, rebuilding",
		slog.String("index_dir", c.cfg.IndexDir),
		slog.Any("reason", err),
	)
	if err := c.buildAndLoad(ctx); err != nil {
		c.setFailed(err)
		return err
	}
	return nil
}

// Rebuild forces a full build from any state. Searches report NotReady while
// it runs. When the build fails the previous on-disk index is loaded again if
// it is still usable; the build error is returned either way.
func (c *Controller) Rebuild(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	err := c.buildAndLoad(ctx)
	if err == nil {
		return nil
	}

	st, loadErr := c.load()
	if loadErr != nil {
		c.setFailed(err)
		return err
	}
	if setErr := c.setLoaded(st, err); setErr != nil {
		c.setFailed(errors.Join(err, setErr))
		return err
	}
	logging.FromContext(ctx).Warn("bootstrap: rebuild failed, previous index restored",
		slog.Int("chunks", st.Len()),
		slog.Any("error", err),
	)
	return err
}

func (c *Controller) buildAndLoad(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateBuilding
	c.store, c.retriever = nil, nil
	c.mu.Unlock()

	if _, err := c.cfg.Builder.Build(ctx, c.cfg.Progress); err != nil {
		return fmt.Errorf("bootstrap: rebuild: %w", err)
	}
	st, err := c.load()
	if err != nil {
		return fmt.Errorf("bootstrap: load after rebuild: %w", err)
	}
	if err := c.setLoaded(st, nil); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("bootstrap: index rebuilt and loaded",
		slog.Int("chunks", st.Len()),
		slog.Int("dim", st.Dim()),
	)
	return nil
}

// load reads the index and rejects one built by another embedding model.
func (c *Controller) load() (*index.Store, error) {
	st, err := index.Load(c.cfg.IndexDir)
	if err != nil {
		return nil, err
	}
	if got, want := st.Manifest().ModelID, c.cfg.Generator.ModelID(); got != want {
		return nil, fmt.Errorf("bootstrap: index built with %q, embedder is %q: %w", got, want, rag.ErrIndexCorrupt)
	}
	return st, nil
}

// setLoaded publishes st for searching. The state is left unchanged when no
// retriever can be built over st.
func (c *Controller) setLoaded(st *index.Store, lastErr error) error {
	if c.cfg.Generator == nil || st == nil {
		return fmt.Errorf("bootstrap: cannot publish index without a generator and a store")
	}
	r, err := rag.NewRetriever(c.cfg.Generator, st, c.cfg.DefaultTopK)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	c.mu.Lock()
	c.state = StateLoaded
	c.lastErr = lastErr
	c.store = st
	c.retriever = r
	c.mu.Unlock()
	c.cfg.Metrics.SetIndexChunks(st.Len())
	return nil
}

func (c *Controller) setFailed(err error) {
	c.mu.Lock()
	c.state = StateFailed
	c.lastErr = err
	c.store, c.retriever = nil, nil
	c.mu.Unlock()
	c.cfg.Metrics.SetIndexChunks(0)
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the most recent load or build failure.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{State: c.state}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	if c.store != nil {
		m := c.store.Manifest()
		s.Manifest = &m
	}
	return s
}

// DefaultTopK returns the result count used when Retrieve is called with topK=0.
func (c *Controller) DefaultTopK() int { return c.cfg.DefaultTopK }

// Retrieve runs the query engine against the loaded index. Outside
// StateLoaded it returns an error wrapping rag.ErrNotReady.
func (c *Controller) Retrieve(ctx context.Context, query string, topK int) ([]rag.Result, error) {
	c.mu.RLock()
	state, r := c.state, c.retriever
	c.mu.RUnlock()

	if state != StateLoaded {
		return nil, fmt.Errorf("bootstrap: search while %s: %w", state, rag.ErrNotReady)
	}
	return r.Retrieve(ctx, query, topK)
}

// Ping reports whether searches are currently served. It is used as the
// index readiness probe.
func (c *Controller) Ping(_ context.Context) error {
	if s := c.State(); s != StateLoaded {
		return fmt.Errorf("bootstrap: index is %s: %w", s, rag.ErrNotReady)
	}
	return nil
}
