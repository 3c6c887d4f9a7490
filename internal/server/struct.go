package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/healthrag/internal/bootstrap"
	"github.com/54b3r/healthrag/internal/rag"
	"github.com/54b3r/healthrag/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// SearchTimeout bounds a single /api/search request, including the
	// query embedding call. Defaults to 30s if zero.
	SearchTimeout time.Duration
	// MaxContextTokens is the default context budget for /api/search when
	// the request does not set one. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Index is what the server needs from the index owner.
// *bootstrap.Controller satisfies it; tests inject a fake.
type Index interface {
	// Retrieve runs a query. It returns an error wrapping rag.ErrNotReady
	// while no index is loaded.
	Retrieve(ctx context.Context, query string, topK int) ([]rag.Result, error)
	// DefaultTopK is the result count used when a request omits top_k.
	DefaultTopK() int
	// Status reports the lifecycle state and loaded manifest.
	Status() bootstrap.Status
}

// Server is the local HTTP surface over the retrieval subsystem.
type Server struct {
	// index serves searches and status.
	index Index
	// journal lists recent builds for GET /api/index. May be nil.
	journal store.Journal
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the natural language question.
	Query string `json:"query"`
	// TopK is the number of results; 0 selects the server default.
	TopK int `json:"top_k"`
	// MaxContextTokens overrides the context budget; 0 selects the default.
	MaxContextTokens int `json:"max_context_tokens"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Results are the ranked chunks, best first.
	Results []rag.Result `json:"results"`
	// Confidence is derived from the result scores, in [0, 1].
	Confidence float64 `json:"confidence"`
	// Context is the packed prompt context for the answer-generation layer.
	Context string `json:"context"`
	// ContextTokens is the estimated token count of Context.
	ContextTokens int `json:"context_tokens"`
	// PromptTokens is the estimated prompt cost of the context message,
	// including its preamble and role overhead.
	PromptTokens int `json:"prompt_tokens"`
	// Truncated is true when results were cut or dropped to fit the budget.
	Truncated bool `json:"truncated"`
}

// indexResponse is the JSON response for GET /api/index.
type indexResponse struct {
	bootstrap.Status
	// RecentBuilds lists the latest build attempts, newest first.
	RecentBuilds []store.BuildRecord `json:"recent_builds,omitempty"`
}
