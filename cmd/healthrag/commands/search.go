package commands

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/healthrag/internal/budget"
)

// NewSearchCmd constructs the `healthrag search` command, which runs a single
// query against the index and prints the ranked chunks.
func NewSearchCmd() *cobra.Command {
	var (
		topK        int
		showContext bool
		maxTokens   int
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the medical knowledge index",
		Long: `Embed a query and print the most similar chunks, best first.

The index is loaded (or built, on first use) before the query runs.
With --context the packed prompt context and a confidence value are
printed after the results.

Examples:
  healthrag search "what does a fasting glucose of 7.2 mmol/L indicate?"
  healthrag search -k 10 "first aid for anaphylaxis"
  healthrag search --context --max-tokens 500 "ibuprofen and warfarin"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer a.Close()

			if err := a.controller.Open(ctx); err != nil {
				return fmt.Errorf("search: %w", err)
			}

			query := strings.Join(args, " ")
			results, err := a.controller.Retrieve(ctx, query, topK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "no results")
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. score=%.4f source=%s\n%s\n\n", i+1, r.Score, r.SourceID, r.ChunkText)
			}

			if showContext {
				if maxTokens <= 0 {
					maxTokens = a.cfg.MaxContextTokens
				}
				packed := budget.Pack(results, maxTokens)
				msg := budget.ContextMessage(packed)
				fmt.Fprintf(out, "--- context (%s, ~%d tokens, prompt ~%d, truncated=%t) ---\n%s\n\n",
					msg.Role, packed.Tokens, budget.EstimateMessages(msg), packed.Truncated, msg.Content)
				fmt.Fprintf(out, "confidence: %.2f\n", budget.Confidence(results))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default: HEALTHRAG_TOP_K)")
	cmd.Flags().BoolVar(&showContext, "context", false, "Also print the packed prompt context and confidence")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Context token budget (default: HEALTHRAG_MAX_CONTEXT_TOKENS)")

	return cmd
}
