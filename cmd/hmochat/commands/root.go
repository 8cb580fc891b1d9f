// Package commands defines all Cobra CLI commands for the hmochat binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/hmochat-go/internal/audit"
	"github.com/54b3r/hmochat-go/internal/config"
	"github.com/54b3r/hmochat-go/internal/logging"
	"github.com/54b3r/hmochat-go/internal/tracing"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// cleanups run after the command finishes, successful or not, in reverse
// registration order.
var cleanups []func()

// Execute runs the root command and then the registered cleanups.
func Execute() error {
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()
	return NewRootCmd().Execute()
}

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hmochat",
		Short: "hmochat answers health-fund members' questions about their services",
		Long: `hmochat is a retrieval-augmented chatbot for Israeli health-fund (HMO)
members. A session first collects and verifies the member's details
(health fund, insurance tier and identity), then answers questions
about medical services from a pre-embedded knowledge base filtered by
the member's fund and tier.

The chat model is selected via MODEL_PROVIDER (default: azure) and the
embedding model via EMBEDDING_PROVIDER. Settings may also come from a
.env file or a YAML config file (~/.hmochat/config.yaml).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			boot := logging.New()

			if err := config.LoadDotEnv(envFile, boot); err != nil {
				return err
			}
			loadedConfigPath, err := config.Load(configPath, boot)
			if err != nil {
				return err
			}

			// LOG_FILE may have come from the config file.
			log, closer, err := logging.Open()
			if err != nil {
				return err
			}
			cleanups = append(cleanups, func() { _ = closer.Close() })
			slog.SetDefault(log)

			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			audit.LogCommandStart(ctx, log, cmd.Name(), loadedConfigPath)

			if flush, ok := tracing.Setup(); ok {
				cleanups = append(cleanups, flush)
				log.Debug("langfuse tracing enabled")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.hmochat/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file; existing env vars are never overridden")

	root.AddCommand(
		NewServeCmd(),
		NewChatCmd(),
		NewSearchCmd(),
		NewKBCmd(),
		NewEmbedCmd(),
		NewFormCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}
