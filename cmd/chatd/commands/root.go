// Package commands defines all Cobra CLI commands for the chatd binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/atelier-ai/chatd/internal/audit"
	"github.com/atelier-ai/chatd/internal/config"
	"github.com/atelier-ai/chatd/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatd",
		Short: "chatd — chat orchestration backend with plugins and RAG",
		Long: `chatd is a chat orchestration daemon. It forwards conversations to a
hosted model (Ollama or OpenAI) enriched with capability plugins, knowledge
retrieval over a local document index, and bounded session memory.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.chatd/config.yaml).
See 'chatd --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A local .env is a development convenience; absence is normal.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.chatd/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewStatsCmd(),
		NewVersionCmd(),
	)

	return root
}
