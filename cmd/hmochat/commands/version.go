package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/hmochat-go/internal/version"
)

// NewVersionCmd constructs the `hmochat version` subcommand. Values are
// injected at build time via -ldflags and fall back to "dev"/"unknown".
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hmochat version, git commit, and build date",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
