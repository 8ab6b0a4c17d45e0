package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atelier-ai/chatd/internal/embedder"
	"github.com/atelier-ai/chatd/internal/logging"
)

// NewStatsCmd constructs the `chatd stats` command, which prints the current
// knowledge index summary from the local cache.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print knowledge index statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("stats: failed to initialise embedder: %w", err)
			}

			ix, closeIndex, err := buildIndex(ctx, emb, log)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer closeIndex()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ix.Stats())
		},
	}
}
