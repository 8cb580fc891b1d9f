package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/hmochat-go/internal/logging"
	"github.com/54b3r/hmochat-go/internal/provider"
	"github.com/54b3r/hmochat-go/internal/rag"
	"github.com/54b3r/hmochat-go/internal/server"
)

// NewServeCmd constructs the `hmochat serve` command, which starts the HTTP
// API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the hmochat HTTP API",
		Long: `Start the hmochat HTTP API.

Routes:
  POST /api/chat           one conversation turn (client carries the session)
  POST /api/search         direct knowledge-base search
  POST /api/admin/reload   reload the corpus (requires HMOCHAT_ADMIN_KEY)
  GET  /api/health         liveness
  GET  /api/ready          readiness (model backend, corpus or Qdrant)
  GET  /metrics            Prometheus metrics

With the in-memory backend, --watch reloads the corpus whenever
'hmochat embed' rewrites it.

Examples:
  hmochat serve
  hmochat serve --port 9090 --watch
  HMOCHAT_SEARCH_BACKEND=qdrant hmochat serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			// Flags win over env, which is only complete after the root pre-run.
			if host == "" {
				host = getEnvOrDefault("HMOCHAT_HOST", "127.0.0.1")
			}
			if port == 0 {
				port = getEnvInt("HMOCHAT_PORT", 8080)
			}

			search, err := buildSearch(ctx, log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer search.Close()

			machine, pcfg, err := buildMachine(ctx, log, search)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			history, err := openHistory(log)
			if err != nil {
				log.Warn("history: failed to open store, disabling", slog.Any("error", err))
			}

			pingers := []server.Pinger{
				server.NewLLMPinger(provider.NewHealthChecker(pcfg), string(pcfg.Backend)),
			}
			cfg := &server.Config{
				Host:     host,
				Port:     port,
				Logger:   log,
				APIKey:   os.Getenv("HMOCHAT_API_KEY"),
				AdminKey: os.Getenv("HMOCHAT_ADMIN_KEY"),
			}
			if history != nil {
				defer func() { _ = history.Close() }()
				cfg.Transcripts = history
			}

			switch {
			case search.holder != nil:
				loader := &rag.DirLoader{
					Holder: search.holder,
					Dir:    getEnvOrDefault("HMOCHAT_CORPUS_DIR", defaultCorpusDir),
				}
				cfg.Reloader = loader
				pingers = append(pingers, server.NewCorpusPinger(search.holder))
				if watch {
					w, err := rag.NewWatcher(loader, 0, log)
					if err != nil {
						return fmt.Errorf("serve: %w", err)
					}
					go func() {
						if err := w.Run(ctx); err != nil {
							log.Error("corpus watcher stopped", slog.Any("error", err))
						}
					}()
					log.Info("watching corpus for changes", slog.String("dir", loader.Dir))
				}
			case search.qdrant != nil:
				pingers = append(pingers, server.NewQdrantPinger(search.qdrant.Client()))
				if watch {
					log.Warn("--watch has no effect with the qdrant search backend")
				}
			}
			cfg.Pingers = pingers

			srv, err := server.New(machine, search.service, cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: HMOCHAT_HOST or 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: HMOCHAT_PORT or 8080)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the in-memory corpus when its files change")

	return cmd
}
