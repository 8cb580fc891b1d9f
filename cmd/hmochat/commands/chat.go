package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/54b3r/hmochat-go/internal/conversation"
	"github.com/54b3r/hmochat-go/internal/logging"
	"github.com/54b3r/hmochat-go/internal/store"
)

var (
	userLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Render("you ›")
	assistantLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")).Render("hmochat ›")
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// greeting opens every terminal session.
const greeting = "שלום! אני כאן כדי לעזור לך במידע על שירותי הבריאות של קופת החולים שלך. " +
	"כדי להתחיל, אנא ספר/י לי את שמך המלא, מספר תעודת זהות, מין, גיל, " +
	"קופת החולים, מספר כרטיס קופה ומסלול הביטוח."

// NewChatCmd constructs the `hmochat chat` command, an interactive terminal
// session over the same conversation machine the HTTP API uses.
func NewChatCmd() *cobra.Command {
	var showTools bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Start an interactive chat session in the terminal.

The assistant first collects and verifies your details, then answers
questions about the medical services covered by your health fund and
insurance tier. Type /exit (or press Ctrl-D) to leave, /reset to start
over. When HMOCHAT_HISTORY_DB is set, the session is recorded.

Examples:
  hmochat chat
  hmochat chat --show-tools`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			search, err := buildSearch(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer search.Close()

			machine, _, err := buildMachine(ctx, log, search)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			var transcripts store.TranscriptStore
			history, err := openHistory(log)
			if err != nil {
				log.Warn("history: failed to open store, disabling", slog.Any("error", err))
			}
			if history != nil {
				defer func() { _ = history.Close() }()
				transcripts = history
			}

			repl := &chatREPL{
				machine:     machine,
				transcripts: transcripts,
				showTools:   showTools,
				in:          cmd.InOrStdin(),
				out:         cmd.OutOrStdout(),
				log:         log,
			}
			return repl.run(ctx)
		},
	}

	cmd.Flags().BoolVar(&showTools, "show-tools", false, "Print tool calls and their results after each reply")

	return cmd
}

// chatAdvancer is the part of *conversation.Machine the REPL needs.
type chatAdvancer interface {
	Advance(ctx context.Context, st conversation.State, userMessage string) (conversation.Turn, error)
}

// chatREPL reads user lines and prints assistant replies until EOF or /exit.
type chatREPL struct {
	machine     chatAdvancer
	transcripts store.TranscriptStore
	showTools   bool
	in          io.Reader
	out         io.Writer
	log         *slog.Logger
}

func (r *chatREPL) run(ctx context.Context) error {
	sessionID := uuid.NewString()
	st := conversation.NewState()

	fmt.Fprintln(r.out, noticeStyle.Render("session "+sessionID+" (/exit to quit, /reset to restart)"))
	fmt.Fprintln(r.out, assistantLabel, greeting)

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, userLabel, " ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			sessionID = uuid.NewString()
			st = conversation.NewState()
			fmt.Fprintln(r.out, noticeStyle.Render("new session "+sessionID))
			fmt.Fprintln(r.out, assistantLabel, greeting)
			continue
		}

		turn, err := r.machine.Advance(ctx, st, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			r.log.Error("chat turn failed", slog.String("session_id", sessionID), slog.Any("error", err))
			fmt.Fprintln(r.out, errorStyle.Render("error: "+err.Error()))
			continue
		}

		if r.transcripts != nil {
			if err := r.transcripts.AppendTurn(ctx, sessionID, store.FromTurn(st.Phase, line, turn)); err != nil {
				r.log.Warn("transcript append failed", slog.Any("error", err))
			}
		}
		st = turn.State

		if r.showTools {
			for _, c := range turn.ToolCalls {
				fmt.Fprintln(r.out, noticeStyle.Render(fmt.Sprintf("[%s] %s -> %s", c.Name, c.Arguments, c.Result)))
			}
		}
		fmt.Fprintln(r.out, assistantLabel, turn.Reply)
		if turn.PhaseChanged {
			id := st.Identity
			fmt.Fprintln(r.out, noticeStyle.Render(fmt.Sprintf("verified: %s, %s %s", id.FullName, id.HealthFund, id.InsuranceTier)))
		}
	}
}
