package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/hmochat-go/internal/knowledge"
	"github.com/54b3r/hmochat-go/internal/logging"
)

// NewKBCmd constructs the `hmochat kb` command group for knowledge-base
// maintenance.
func NewKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Maintain the services knowledge base",
	}
	cmd.AddCommand(newKBBuildCmd())
	return cmd
}

func newKBBuildCmd() *cobra.Command {
	var htmlDir, outDir string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Convert the HTML service pages into per-fund, per-tier JSON payloads",
		Long: `Parse every *.html service page and write one JSON payload per health
fund and insurance tier:

  <out>/<service>/<hmo>/<tier>.json

Run 'hmochat embed' afterwards to embed the payloads into a corpus.

Examples:
  hmochat kb build
  hmochat kb build --html data/phase2_data --out data/processed`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.FromContext(cmd.Context())

			if htmlDir == "" {
				htmlDir = getEnvOrDefault("HMOCHAT_HTML_DIR", defaultHTMLDir)
			}
			if outDir == "" {
				outDir = getEnvOrDefault("HMOCHAT_PROCESSED_DIR", defaultProcessedDir)
			}

			n, err := knowledge.ConvertDir(htmlDir, outDir, func(msg string) { log.Info(msg) })
			if err != nil {
				return fmt.Errorf("kb build: %w", err)
			}
			log.Info("knowledge base built",
				slog.String("html_dir", htmlDir),
				slog.String("out_dir", outDir),
				slog.Int("payloads", n),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&htmlDir, "html", "", "Directory of HTML service pages (default: HMOCHAT_HTML_DIR or "+defaultHTMLDir+")")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory for payloads (default: HMOCHAT_PROCESSED_DIR or "+defaultProcessedDir+")")

	return cmd
}
