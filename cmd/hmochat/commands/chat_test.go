package commands

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/hmochat-go/internal/conversation"
	"github.com/54b3r/hmochat-go/internal/identity"
	"github.com/54b3r/hmochat-go/internal/store"
)

// scriptedAdvancer verifies on the second message and echoes afterwards.
type scriptedAdvancer struct {
	calls []conversation.State
	fail  bool
}

func (s *scriptedAdvancer) Advance(_ context.Context, st conversation.State, msg string) (conversation.Turn, error) {
	s.calls = append(s.calls, st)
	if s.fail {
		return conversation.Turn{State: st}, errors.New("backend down")
	}
	next := st
	next.History = append(slices.Clone(st.History), schema.UserMessage(msg), schema.AssistantMessage("echo: "+msg, nil))
	turn := conversation.Turn{State: next, Reply: "echo: " + msg}
	if st.Phase == conversation.PhaseCollecting && len(s.calls) == 2 {
		next.Phase = conversation.PhaseAnswering
		next.Identity = &identity.Identity{FullName: "דנה כהן", HealthFund: "כללית", InsuranceTier: "כסף"}
		turn.State = next
		turn.PhaseChanged = true
		turn.ToolCalls = []conversation.ToolCall{{Name: "verify_user_information", Arguments: "{}", Result: identity.SuccessMessage}}
	}
	return turn, nil
}

func runREPL(t *testing.T, a chatAdvancer, ts store.TranscriptStore, input string) string {
	t.Helper()
	var out bytes.Buffer
	r := &chatREPL{
		machine:     a,
		transcripts: ts,
		showTools:   true,
		in:          strings.NewReader(input),
		out:         &out,
		log:         slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	}
	require.NoError(t, r.run(context.Background()))
	return out.String()
}

func TestChatREPL_ThreadsStateAcrossTurns(t *testing.T) {
	t.Parallel()
	a := &scriptedAdvancer{}

	out := runREPL(t, a, nil, "שלום\n\nהפרטים שלי\nמה מגיע לי?\n/exit\nnever sent\n")

	require.Len(t, a.calls, 3, "blank lines are skipped and /exit stops the loop")
	assert.Equal(t, conversation.PhaseCollecting, a.calls[0].Phase)
	assert.Equal(t, conversation.PhaseCollecting, a.calls[1].Phase)
	assert.Equal(t, conversation.PhaseAnswering, a.calls[2].Phase)
	require.NotNil(t, a.calls[2].Identity)
	assert.Equal(t, "כללית", a.calls[2].Identity.HealthFund)

	assert.Contains(t, out, "echo: מה מגיע לי?")
	assert.Contains(t, out, "verified: דנה כהן, כללית כסף")
	assert.Contains(t, out, "[verify_user_information]")
	assert.NotContains(t, out, "never sent")
}

func TestChatREPL_ResetStartsOver(t *testing.T) {
	t.Parallel()
	a := &scriptedAdvancer{}

	runREPL(t, a, nil, "a\nb\n/reset\nc\n")

	require.Len(t, a.calls, 3)
	assert.Equal(t, conversation.PhaseCollecting, a.calls[2].Phase)
	assert.Empty(t, a.calls[2].History)
}

func TestChatREPL_ErrorKeepsSessionAlive(t *testing.T) {
	t.Parallel()
	a := &scriptedAdvancer{fail: true}

	out := runREPL(t, a, nil, "a\nb\n")

	assert.Len(t, a.calls, 2)
	assert.Contains(t, out, "error: backend down")
}

func TestChatREPL_RecordsTranscript(t *testing.T) {
	t.Parallel()
	ts, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })

	out := runREPL(t, &scriptedAdvancer{}, ts, "שלום\n")

	// The session id is printed on the first line.
	first := strings.SplitN(out, "\n", 2)[0]
	idx := strings.Index(first, "session ")
	require.GreaterOrEqual(t, idx, 0)
	sessionID := strings.Fields(first[idx+len("session "):])[0]

	entries, err := ts.Recent(context.Background(), sessionID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "שלום", entries[0].Content)
	assert.Equal(t, "echo: שלום", entries[1].Content)
}
