package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/hmochat-go/internal/logging"
)

// NewSearchCmd constructs the `hmochat search` command, which queries the
// knowledge base directly without the chat model.
func NewSearchCmd() *cobra.Command {
	var hmo, tier string
	var topK int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the services knowledge base",
		Long: `Embed a query and print the matching knowledge-base entries as JSON,
exactly as the get_information tool hands them to the model.

--hmo and --tier accept Hebrew or English names (מכבי/maccabi, זהב/gold).

Examples:
  hmochat search "ניקוי שיניים" --hmo מכבי --tier זהב
  hmochat search "optometry" --hmo clalit --tier bronze --top-k 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			search, err := buildSearch(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer search.Close()

			res := search.service.Search(ctx, strings.Join(args, " "), hmo, tier, topK)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if res.Error != "" {
				return fmt.Errorf("search: %s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&hmo, "hmo", "", "Health fund filter")
	cmd.Flags().StringVar(&tier, "tier", "", "Insurance tier filter")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default: HMOCHAT_TOP_K or 6)")

	return cmd
}
