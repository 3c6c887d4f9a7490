package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/healthrag/internal/embedder"
	"github.com/54b3r/healthrag/internal/logging"
	"github.com/54b3r/healthrag/internal/server"
	"github.com/54b3r/healthrag/internal/version"
)

// NewServeCmd constructs the `healthrag serve` command, which starts the
// local HTTP API over the index.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the healthrag HTTP server",
		Long: `Start the healthrag HTTP server on localhost.

The index is loaded (or built) in the background; /api/ready reports 503 and
/api/search answers "not ready" until it is available.

Endpoints:
  POST /api/search   {"query": "...", "top_k": 5, "max_context_tokens": 1000}
  GET  /api/index    index state, manifest and recent builds
  GET  /api/health   liveness
  GET  /api/ready    readiness (index + embedding provider)
  GET  /metrics      Prometheus metrics

Examples:
  healthrag serve
  healthrag serve --port 9090
  HEALTHRAG_API_KEY=secret EMBEDDING_PROVIDER=openai healthrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)
			log.Info("serve starting", slog.String("version", version.String()))

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("HEALTHRAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("HEALTHRAG_PORT", port)
			}

			a, err := newApp(ctx, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			pingers := []server.Pinger{server.NewPinger("index", a.controller)}
			if p, ok := a.embedder.(server.Prober); ok {
				pingers = append(pingers, server.NewPinger(embedder.Backend(), p))
			}

			srv, err := server.New(a.controller, a.journal, &server.Config{
				Host:             host,
				Port:             port,
				Logger:           log,
				Pingers:          pingers,
				MaxContextTokens: a.cfg.MaxContextTokens,
				RateLimit:        getEnvFloat("HEALTHRAG_RATE_LIMIT", 0),
				RateBurst:        getEnvInt("HEALTHRAG_RATE_BURST", 0),
				APIKey:           os.Getenv("HEALTHRAG_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			go func() {
				if err := a.controller.Open(ctx); err != nil {
					log.Error("serve: index unavailable, searches will fail until restart",
						slog.Any("error", err),
					)
				}
			}()

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: HEALTHRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: HEALTHRAG_PORT)")

	return cmd
}

// getEnvOrDefault returns the env var value or def when unset.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the env var parsed as int, or def when unset or malformed.
func getEnvInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

// getEnvFloat returns the env var parsed as float64, or def when unset or malformed.
func getEnvFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return def
}
