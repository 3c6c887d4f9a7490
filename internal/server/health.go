package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/healthrag/internal/bootstrap"
	"github.com/54b3r/healthrag/internal/logging"
	"github.com/54b3r/healthrag/internal/version"
)

// probeTimeout bounds each dependency probe of a readiness check.
const probeTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability.
// Implementations must be safe to call from multiple goroutines.
type Pinger interface {
	// Ping returns nil when the dependency is usable.
	Ping(ctx context.Context) error

	// Name is the label used in readiness responses (e.g. "index", "ollama").
	Name() string
}

// readyCheck holds the per-dependency result of a readiness probe.
type readyCheck struct {
	// Name is the dependency label.
	Name string `json:"name"`
	// OK is true when the probe succeeded.
	OK bool `json:"ok"`
	// Error is the failure reason when OK is false.
	Error string `json:"error,omitempty"`
	// LatencyMS is the probe duration in milliseconds.
	LatencyMS int64 `json:"latency_ms"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every probe succeeded.
	Ready bool `json:"ready"`
	// IndexState is the controller state at the time of the check.
	IndexState bootstrap.State `json:"index_state"`
	// Checks holds the probe results in registration order.
	Checks []readyCheck `json:"checks"`
}

// healthResponse is the JSON body returned by GET /api/health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// handleHealth handles GET /api/health. It only reports that the process is
// serving HTTP; it never touches the index or the embedding provider.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version}, logging.FromContext(r.Context()))
}

// handleReady handles GET /api/ready. All pingers are probed concurrently,
// each under probeTimeout. The response is 200 when every probe succeeds and
// 503 otherwise; while the index is still being loaded or built a
// Retry-After hint is added.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{
		Ready:      true,
		IndexState: s.index.Status().State,
		Checks:     make([]readyCheck, len(s.pingers)),
	}

	var wg sync.WaitGroup
	for i, p := range s.pingers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			start := time.Now()
			err := p.Ping(ctx)
			check := readyCheck{Name: p.Name(), OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				check.Error = err.Error()
			}
			resp.Checks[i] = check
		})
	}
	wg.Wait()

	for _, c := range resp.Checks {
		if !c.OK {
			resp.Ready = false
			log.Warn("readiness probe failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
			)
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
		if resp.IndexState == bootstrap.StateUninitialized || resp.IndexState == bootstrap.StateBuilding {
			w.Header().Set("Retry-After", "5")
		}
	}
	writeJSON(w, status, resp, log)
}
