package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atelier-ai/chatd/internal/archive"
	"github.com/atelier-ai/chatd/internal/embedder"
	"github.com/atelier-ai/chatd/internal/index"
	"github.com/atelier-ai/chatd/internal/knowledge"
	"github.com/atelier-ai/chatd/internal/llm"
	"github.com/atelier-ai/chatd/internal/logging"
	"github.com/atelier-ai/chatd/internal/memory"
	"github.com/atelier-ai/chatd/internal/orchestrator"
	"github.com/atelier-ai/chatd/internal/plugin"
	"github.com/atelier-ai/chatd/internal/server"
	"github.com/atelier-ai/chatd/internal/watcher"
)

// NewServeCmd constructs the `chatd serve` command, which starts the HTTP
// API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chatd HTTP API server",
		Long: `Start the chatd HTTP server on localhost.

The server exposes POST /api/chat plus session, knowledge, health, and
metrics routes. Knowledge documents are loaded from KNOWLEDGE_DIR at startup
and kept in sync when KNOWLEDGE_WATCH=true.

Examples:
  chatd serve
  chatd serve --port 9090
  MODEL_PROVIDER=openai chatd serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")))

			client, err := llm.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("model provider initialised", slog.String("provider", client.Name()))

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}

			ix, closeIndex, err := buildIndex(ctx, emb, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeIndex()

			// Load the knowledge directory. Failure is not fatal: the server
			// can answer without retrieval and documents can be ingested over
			// HTTP later.
			knowledgeDir := os.Getenv("KNOWLEDGE_DIR")
			if knowledgeDir != "" {
				if n, err := reloadKnowledge(ctx, ix, knowledgeDir); err != nil {
					log.Warn("serve: knowledge load failed", slog.Any("error", err))
				} else {
					log.Info("serve: knowledge loaded",
						slog.String("dir", knowledgeDir),
						slog.Int("documents", n),
					)
				}

				if getEnvBool("KNOWLEDGE_WATCH") {
					w, err := watcher.New(knowledgeDir, ix, log)
					if err != nil {
						log.Warn("serve: watcher unavailable", slog.Any("error", err))
					} else {
						w.Start(ctx)
						defer func() { _ = w.Close() }()
						log.Info("serve: watching knowledge directory", slog.String("dir", knowledgeDir))
					}
				}
			}

			mem, err := memory.NewManager(memory.Config{
				MaxMessages:      getEnvInt("MEMORY_MAX_MESSAGES", 50),
				SummaryThreshold: getEnvInt("MEMORY_SUMMARY_THRESHOLD", 20),
				SessionTTL:       getEnvDuration("MEMORY_SESSION_TTL_MINUTES", time.Hour),
				SweepInterval:    getEnvDuration("MEMORY_SWEEP_INTERVAL_MINUTES", 5*time.Minute),
				Logger:           log,
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			mem.Start()
			defer mem.Stop()

			arc := openArchive(log)
			if arc != nil {
				defer func() { _ = arc.Close() }()
			}

			dispatcher := plugin.NewDispatcher(plugin.Config{
				MaxPerRequest: getEnvInt("PLUGINS_MAX_PER_REQUEST", 3),
				Timeout:       time.Duration(getEnvInt("PLUGINS_TIMEOUT_MS", 5000)) * time.Millisecond,
				Parallel:      getEnvBool("PLUGINS_PARALLEL"),
			},
				plugin.NewMathPlugin(),
				plugin.NewWeatherPlugin(os.Getenv("WEATHER_API_KEY")),
			)
			log.Info("plugins registered", slog.Any("plugins", dispatcher.Plugins()))

			orch, err := orchestrator.New(mem, dispatcher, ix, client, arc, llm.OptionsFromEnv())
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			srv, err := server.New(orch, ix, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   buildPingers(client, ix),
				RateLimit: getEnvFloat("CHATD_RATE_LIMIT", 0),
				RateBurst: getEnvInt("CHATD_RATE_BURST", 0),
				APIKey:    os.Getenv("CHATD_API_KEY"),
				Reload: func(ctx context.Context) (int, error) {
					if knowledgeDir == "" {
						return 0, fmt.Errorf("KNOWLEDGE_DIR is not configured")
					}
					return reloadKnowledge(ctx, ix, knowledgeDir)
				},
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}

// reloadKnowledge reads the knowledge directory and ingests every supported
// document, returning the document count.
func reloadKnowledge(ctx context.Context, ix *index.Index, dir string) (int, error) {
	docs, err := knowledge.LoadDir(dir)
	if err != nil {
		return 0, err
	}
	if err := ix.Ingest(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// openArchive opens the durable conversation archive. ARCHIVE_DB_PATH
// overrides the default path (~/.chatd/archive.db); "disabled" turns the
// archive off. Open failures disable archiving with a warning rather than
// preventing startup.
func openArchive(log *slog.Logger) archive.Archiver {
	dbPath := os.Getenv("ARCHIVE_DB_PATH")
	if dbPath == "disabled" {
		log.Info("archive: disabled via ARCHIVE_DB_PATH=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = archive.DefaultDBPath()
		if err != nil {
			log.Warn("archive: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	arc, err := archive.Open(dbPath)
	if err != nil {
		log.Warn("archive: failed to open, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("archive: opened", slog.String("path", dbPath))
	return arc
}

// buildPingers assembles the readiness probes: the model backend always, the
// Qdrant mirror when one is attached to the index.
func buildPingers(client llm.Client, ix *index.Index) []server.Pinger {
	pingers := []server.Pinger{server.NewLLMPinger(client)}
	if ping := ix.MirrorPing(); ping != nil {
		pingers = append(pingers, server.PingFunc{Label: "qdrant", Fn: ping})
	}
	return pingers
}
