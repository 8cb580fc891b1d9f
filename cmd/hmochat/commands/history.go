package commands

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/54b3r/hmochat-go/internal/logging"
	"github.com/54b3r/hmochat-go/internal/store"
)

var roleStyles = map[store.Role]lipgloss.Style{
	store.RoleUser:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
	store.RoleAssistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
	store.RoleTool:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
}

// NewHistoryCmd constructs the `hmochat history` command, which prints the
// recorded transcript of a session.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Print the recorded transcript of a chat session",
		Long: `Print the most recent transcript entries of a session recorded in the
history database (HMOCHAT_HISTORY_DB). Session ids are returned by
POST /api/chat and printed at the start of 'hmochat chat'.

Examples:
  HMOCHAT_HISTORY_DB=default hmochat history 0b6d2c1e-...
  hmochat history 0b6d2c1e-... -n 100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			s, err := openHistory(log)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if s == nil {
				return fmt.Errorf("history: HMOCHAT_HISTORY_DB is not set")
			}
			defer func() { _ = s.Close() }()

			entries, err := s.Recent(ctx, args[0], limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(entries) == 0 {
				return fmt.Errorf("history: no entries for session %s", args[0])
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				label := roleStyles[e.Role].Render(string(e.Role))
				fmt.Fprintf(out, "%s [%s %s] %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Phase, label, e.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of entries to print")

	return cmd
}
