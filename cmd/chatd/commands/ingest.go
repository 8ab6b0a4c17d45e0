package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/atelier-ai/chatd/internal/embedder"
	"github.com/atelier-ai/chatd/internal/index"
	"github.com/atelier-ai/chatd/internal/knowledge"
	"github.com/atelier-ai/chatd/internal/logging"
)

// NewIngestCmd constructs the `chatd ingest` command, which loads knowledge
// documents from disk into the index without starting the server.
func NewIngestCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest knowledge documents into the index",
		Long: `Chunk, embed, and index knowledge documents (.md, .txt).

With --dir the whole directory is ingested; positional arguments name
individual files. Re-ingesting a filename replaces its previous chunks.
The index cache is written to KNOWLEDGE_CACHE_DIR (default ~/.chatd/cache)
and mirrored to Qdrant when QDRANT_COLLECTION is set.

Required environment variables:
  MODEL_PROVIDER       Embedding backend: ollama, openai (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see 'chatd serve --help')

Examples:
  chatd ingest --dir ./docs
  chatd ingest notes.md runbook.txt
  QDRANT_COLLECTION=chatd-knowledge chatd ingest --dir ./docs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if dir == "" && len(args) == 0 {
				dir = os.Getenv("KNOWLEDGE_DIR")
			}
			if dir == "" && len(args) == 0 {
				return fmt.Errorf("ingest: provide --dir, file arguments, or KNOWLEDGE_DIR")
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}

			ix, closeIndex, err := buildIndex(ctx, emb, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer closeIndex()

			if dir != "" {
				n, err := reloadKnowledge(ctx, ix, dir)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				log.Info("ingest: directory complete", slog.String("dir", dir), slog.Int("documents", n))
			}

			for _, path := range args {
				doc, ok, err := knowledge.LoadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				if !ok {
					log.Warn("ingest: unsupported file type, skipping", slog.String("path", path))
					continue
				}
				if err := ix.Ingest(ctx, []index.SourceDocument{doc}); err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}
				log.Info("ingest: file complete", slog.String("filename", doc.Filename))
			}

			st := ix.Stats()
			log.Info("ingest: index state",
				slog.Int("documents", st.Documents),
				slog.Int("chunks", st.Chunks),
				slog.Int("dimensions", st.Dimensions),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Knowledge directory to ingest (default: KNOWLEDGE_DIR)")

	return cmd
}
