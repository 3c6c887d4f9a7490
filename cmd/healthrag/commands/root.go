// Package commands defines all Cobra CLI commands for the healthrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/healthrag/internal/audit"
	"github.com/54b3r/healthrag/internal/config"
	"github.com/54b3r/healthrag/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "healthrag",
		Short: "healthrag: retrieval over a medical question-answer corpus",
		Long: `healthrag chunks a medical reasoning dataset, embeds every chunk, and keeps
the vectors in a local on-disk index that answers top-k similarity queries.

The index is built on first use and reloaded on later runs. The embedding
provider is selected via EMBEDDING_PROVIDER (ollama, openai, azure, hash)
or a YAML config file (~/.healthrag/config.yaml).
See 'healthrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// .env first so a YAML file cannot shadow it; real env wins over both.
			if _, err := config.LoadEnvFile(envFile, log); err != nil {
				return err
			}

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// LOG_* may have come from the files above.
			log = logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.healthrag/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a KEY=VALUE env file; missing files are ignored")

	root.AddCommand(
		NewBuildCmd(),
		NewSearchCmd(),
		NewStatusCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
