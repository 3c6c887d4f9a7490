// Package server implements the local HTTP surface over the retrieval
// subsystem: search, liveness, readiness, index status and metrics.
// The server is started by the `healthrag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/healthrag/internal/budget"
	"github.com/54b3r/healthrag/internal/logging"
	"github.com/54b3r/healthrag/internal/rag"
	"github.com/54b3r/healthrag/internal/store"
)

// maxTopK bounds top_k on /api/search.
const maxTopK = 50

// recentBuilds is the number of journal entries returned by GET /api/index.
const recentBuilds = 10

// New constructs a Server over idx. journal may be nil.
func New(idx Index, journal store.Journal, cfg *Config) (*Server, error) {
	if idx == nil {
		return nil, fmt.Errorf("server: index must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.SearchTimeout == 0 {
		cfg.SearchTimeout = 30 * time.Second
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		index:   idx,
		journal: journal,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: HEALTHRAG_API_KEY is not set, API authentication is disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stop

	protected := func(h http.Handler) http.Handler { return authMiddleware(cfg.APIKey, h) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/search", protected(rl.middleware(http.HandlerFunc(s.handleSearch))))
	mux.Handle("GET /api/index", protected(http.HandlerFunc(s.handleIndex)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, s.metrics.middleware(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler. Used by tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// handleSearch handles POST /api/search. It runs the query engine and packs
// the results into a prompt context for the answer-generation layer.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", log)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "query is required", log)
		return
	}
	if req.TopK < 0 || req.TopK > maxTopK {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("top_k must be between 0 and %d", maxTopK), log)
		return
	}
	if req.MaxContextTokens < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "max_context_tokens must not be negative", log)
		return
	}
	maxTokens := req.MaxContextTokens
	if maxTokens == 0 {
		maxTokens = s.cfg.MaxContextTokens
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SearchTimeout)
	defer cancel()

	start := time.Now()
	results, err := s.index.Retrieve(ctx, req.Query, req.TopK)
	outcome := searchOutcome(err)
	s.metrics.observeSearch(outcome, time.Since(start))

	if err != nil {
		switch outcome {
		case "not_ready":
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusServiceUnavailable, outcome, "not ready", log)
		case "timeout":
			log.Warn("search timed out", slog.Duration("timeout", s.cfg.SearchTimeout))
			writeError(w, http.StatusGatewayTimeout, outcome, "search timed out", log)
		default:
			log.Error("search failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, outcome, "search failed", log)
		}
		return
	}

	packed := budget.Pack(results, maxTokens)
	msg := budget.ContextMessage(packed)
	resp := searchResponse{
		Results:       results,
		Confidence:    budget.Confidence(results),
		Context:       msg.Content,
		ContextTokens: packed.Tokens,
		PromptTokens:  budget.EstimateMessages(msg),
		Truncated:     packed.Truncated,
	}
	log.Debug("search served",
		slog.Int("results", len(results)),
		slog.Float64("confidence", resp.Confidence),
		slog.Int("context_tokens", packed.Tokens),
		slog.Int("prompt_tokens", resp.PromptTokens),
	)

	writeJSON(w, http.StatusOK, resp, log)
}

// searchOutcome labels a Retrieve result for metrics.
func searchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, rag.ErrNotReady):
		return "not_ready"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// handleIndex handles GET /api/index: controller status plus recent builds.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := indexResponse{Status: s.index.Status()}
	if s.journal != nil {
		builds, err := s.journal.Recent(r.Context(), recentBuilds)
		if err != nil {
			log.Warn("index: could not read build journal", slog.Any("error", err))
		}
		resp.RecentBuilds = builds
	}
	writeJSON(w, http.StatusOK, resp, log)
}

func writeJSON(w http.ResponseWriter, status int, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("response encode error", slog.Any("error", err))
	}
}
