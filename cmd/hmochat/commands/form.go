package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/hmochat-go/internal/form"
	"github.com/54b3r/hmochat-go/internal/logging"
	"github.com/54b3r/hmochat-go/internal/provider"
)

// NewFormCmd constructs the `hmochat form` command group for scanned
// National Insurance injury forms.
func NewFormCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "form",
		Short: "Extract fields from scanned work-injury forms (BL/283)",
	}
	cmd.AddCommand(newFormExtractCmd())
	return cmd
}

func newFormExtractCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "extract [file...]",
		Short: "OCR a form (PDF or image) and extract its fields as JSON",
		Long: `Run Azure Document Intelligence layout analysis on each file, extract the
form fields with the chat model and validate them.

Requires AZURE_FORM_RECOGNIZER_ENDPOINT and AZURE_FORM_RECOGNIZER_KEY,
plus a configured MODEL_PROVIDER.

Each result is printed to stdout, or written to <out>/<file>.json with --out.
The command fails if any file could not be processed; validation issues
are reported in the output but are not errors.

Examples:
  hmochat form extract scan.pdf
  hmochat form extract --out results/ forms/*.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			analyzer, err := form.NewClientFromEnv()
			if err != nil {
				return fmt.Errorf("form extract: %w", err)
			}
			chatModel, pcfg, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("form extract: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(pcfg.Backend)))

			proc := form.NewProcessor(analyzer, form.NewExtractor(chatModel))

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return fmt.Errorf("form extract: %w", err)
				}
			}

			failed := 0
			for _, path := range args {
				res, err := proc.ProcessFile(ctx, path)
				if err != nil {
					failed++
					log.Error("form extraction failed", slog.String("file", path), slog.Any("error", err))
					continue
				}
				log.Info("form extracted",
					slog.String("file", path),
					slog.Bool("valid", res.Validation.OK()),
					slog.Int("missing", len(res.Validation.MissingRequiredFields)),
					slog.Int("format_issues", len(res.Validation.FormatIssues)),
				)

				data, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return fmt.Errorf("form extract: %w", err)
				}
				if outDir == "" {
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
					continue
				}
				name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".json"
				if err := os.WriteFile(filepath.Join(outDir, name), append(data, '\n'), 0o644); err != nil {
					return fmt.Errorf("form extract: %w", err)
				}
			}

			if failed > 0 {
				return fmt.Errorf("form extract: %d of %d files failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write one JSON file per input into this directory")

	return cmd
}
