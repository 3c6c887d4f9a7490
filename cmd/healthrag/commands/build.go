package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/healthrag/internal/logging"
)

// NewBuildCmd constructs the `healthrag build` command, which loads the
// persisted index or builds it from the dataset when it is missing or stale.
func NewBuildCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build or load the vector index",
		Long: `Load the persisted vector index, building it from the dataset first when it
is missing, unreadable, or was produced by a different embedding model.

With --force the index is always rebuilt. A failed forced rebuild leaves the
previous index on disk untouched.

Environment variables:
  HEALTHRAG_INDEX_DIR       Index directory (default: vector_db)
  HEALTHRAG_DATASET_PATHS   Candidate dataset files, probed in order
  HEALTHRAG_CHUNK_SIZE      Target chunk length (default: 1000)
  HEALTHRAG_CHUNK_OVERLAP   Overlap between chunks (default: 200)
  EMBEDDING_PROVIDER        ollama, openai, azure, hash (default: ollama)
  EMBEDDING_BATCH_SIZE      Texts per embedding request (default: 32)

Examples:
  healthrag build
  healthrag build --force
  EMBEDDING_PROVIDER=hash healthrag build`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			a, err := newApp(ctx, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}
			defer a.Close()

			if force {
				err = a.controller.Rebuild(ctx)
			} else {
				err = a.controller.Open(ctx)
			}
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}

			st := a.controller.Status()
			log.Info("build: index ready",
				slog.String("state", st.State.String()),
				slog.String("index_dir", a.cfg.IndexDir),
				slog.Int("chunks", st.Manifest.Count),
				slog.Int("dim", st.Manifest.Dim),
				slog.String("model_id", st.Manifest.ModelID),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "index ready: %d chunks, dim %d, model %s\n",
				st.Manifest.Count, st.Manifest.Dim, st.Manifest.ModelID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rebuild the index even if a valid one exists")

	return cmd
}
