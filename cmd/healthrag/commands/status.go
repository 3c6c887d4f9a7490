package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/healthrag/internal/config"
	"github.com/54b3r/healthrag/internal/index"
	"github.com/54b3r/healthrag/internal/logging"
	"github.com/54b3r/healthrag/internal/rag"
)

// NewStatusCmd constructs the `healthrag status` command, which reports the
// on-disk index and the most recent builds without building anything.
func NewStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted index and recent builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			out := cmd.OutOrStdout()

			cfg, err := config.RetrievalFromEnv()
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			fmt.Fprintf(out, "index dir: %s\n", cfg.IndexDir)
			st, err := index.Load(cfg.IndexDir)
			switch {
			case errors.Is(err, rag.ErrIndexNotFound):
				fmt.Fprintln(out, "state:     not built")
			case err != nil:
				fmt.Fprintf(out, "state:     unusable (%v)\n", err)
			default:
				m := st.Manifest()
				fmt.Fprintln(out, "state:     built")
				fmt.Fprintf(out, "model:     %s\n", m.ModelID)
				fmt.Fprintf(out, "chunks:    %d (dim %d)\n", m.Count, m.Dim)
				fmt.Fprintf(out, "chunking:  size %d, overlap %d\n", m.ChunkSize, m.ChunkOverlap)
				fmt.Fprintf(out, "dataset:   %s\n", m.DatasetPath)
				fmt.Fprintf(out, "created:   %s\n", m.CreatedAt)
			}

			j := openJournal(log, cfg.JournalDB)
			if j == nil {
				return nil
			}
			defer func() { _ = j.Close() }()

			recs, err := j.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			fmt.Fprintln(out)
			if len(recs) == 0 {
				fmt.Fprintln(out, "no builds recorded")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tOUTCOME\tDURATION\tCHUNKS\tMODEL\tERROR")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.StartedAt.Local().Format(time.DateTime),
					r.Outcome,
					r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
					r.Chunks,
					r.ModelID,
					r.Error,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Number of recent builds to show")

	return cmd
}
