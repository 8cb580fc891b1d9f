package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/hmochat-go/internal/identity"
	"github.com/54b3r/hmochat-go/internal/retrieval"
	"github.com/54b3r/hmochat-go/internal/tools"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// request captures one Complete call.
type request struct {
	msgs  []*schema.Message
	tools []string
}

// scriptedCompleter replays completions in order and records every request.
type scriptedCompleter struct {
	script   []Completion
	errAt    int // 1-based call index that fails; 0 = never
	requests []request
}

func (s *scriptedCompleter) Complete(_ context.Context, msgs []*schema.Message, offered []*schema.ToolInfo) (Completion, error) {
	names := make([]string, len(offered))
	for i, t := range offered {
		names[i] = t.Name
	}
	s.requests = append(s.requests, request{msgs: msgs, tools: names})
	if s.errAt == len(s.requests) {
		return nil, errors.New("backend unavailable")
	}
	if len(s.requests) > len(s.script) {
		return nil, errors.New("script exhausted")
	}
	return s.script[len(s.requests)-1], nil
}

func invoke(name, args string) ToolInvocation {
	call := schema.ToolCall{ID: "call_1", Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}}
	return ToolInvocation{
		Message: schema.AssistantMessage("", []schema.ToolCall{call}),
		Calls:   []schema.ToolCall{call},
	}
}

type fakeSearcher struct{ hmo, tier, query string }

func (f *fakeSearcher) Search(_ context.Context, query, hmo, tier string, _ int) retrieval.Result {
	f.query, f.hmo, f.tier = query, hmo, tier
	return retrieval.Result{
		Results: []retrieval.Item{{Category: "מרפאות שיניים", Similarity: 0.9}},
		Count:   1, Query: query, HMO: hmo, Tier: tier,
	}
}

func newMachine(t *testing.T, c Completer, s tools.InformationSearcher) *Machine {
	t.Helper()
	var answering []tool.InvokableTool
	if s != nil {
		answering = append(answering, tools.NewInformationTool(s, 0))
	}
	m, err := New(context.Background(), &Config{Completer: c, AnsweringTools: answering})
	require.NoError(t, err)
	return m
}

const validIdentityArgs = `{"full_name":"דנה כהן","id_number":"123456789","gender":"נקבה","age":30,` +
	`"health_fund":"מכבי","hmo_card_number":"987654321","insurance_tier":"זהב"}`

func verifiedState() State {
	return State{
		Phase: PhaseAnswering,
		Identity: &identity.Identity{
			FullName: "דנה כהן", IDNumber: "123456789", Gender: "נקבה", Age: 30,
			HealthFund: "מכבי", HMOCardNumber: "987654321", InsuranceTier: "זהב",
		},
	}
}

// ---------------------------------------------------------------------------
// Collecting
// ---------------------------------------------------------------------------

func TestAdvance_CollectingPlainReply(t *testing.T) {
	t.Parallel()
	c := &scriptedCompleter{script: []Completion{FinalAnswer{Text: "מה שמך המלא?"}}}
	m := newMachine(t, c, nil)

	turn, err := m.Advance(context.Background(), NewState(), "שלום")
	require.NoError(t, err)
	assert.Equal(t, "מה שמך המלא?", turn.Reply)
	assert.False(t, turn.PhaseChanged)
	assert.Equal(t, PhaseCollecting, turn.State.Phase)
	assert.Nil(t, turn.State.Identity)
	require.Len(t, turn.State.History, 2)
	assert.Equal(t, schema.User, turn.State.History[0].Role)
	assert.Equal(t, schema.Assistant, turn.State.History[1].Role)

	require.Len(t, c.requests, 1)
	assert.Equal(t, []string{tools.VerifyToolName}, c.requests[0].tools)
	assert.Equal(t, schema.System, c.requests[0].msgs[0].Role)
}

func TestAdvance_ValidIdentityTransitions(t *testing.T) {
	t.Parallel()
	c := &scriptedCompleter{script: []Completion{
		invoke(tools.VerifyToolName, validIdentityArgs),
		FinalAnswer{Text: "הפרטים אומתו. במה אוכל לעזור?"},
	}}
	m := newMachine(t, c, nil)

	turn, err := m.Advance(context.Background(), NewState(), "כן, הפרטים נכונים")
	require.NoError(t, err)
	assert.True(t, turn.PhaseChanged)
	assert.Equal(t, PhaseAnswering, turn.State.Phase)
	require.NotNil(t, turn.State.Identity)
	assert.Equal(t, "דנה כהן", turn.State.Identity.FullName)
	assert.Equal(t, 30, turn.State.Identity.Age)
	assert.Equal(t, "הפרטים אומתו. במה אוכל לעזור?", turn.Reply)

	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, identity.SuccessMessage, turn.ToolCalls[0].Result)

	// The second request carries the call and its result, with no tools offered.
	require.Len(t, c.requests, 2)
	second := c.requests[1]
	assert.Empty(t, second.tools)
	last := second.msgs[len(second.msgs)-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Equal(t, identity.SuccessMessage, last.Content)
}

func TestAdvance_InvalidIdentityStaysCollecting(t *testing.T) {
	t.Parallel()
	args := strings.Replace(validIdentityArgs, `"gender":"נקבה"`, `"gender":"X"`, 1)
	c := &scriptedCompleter{script: []Completion{
		invoke(tools.VerifyToolName, args),
		FinalAnswer{Text: "המין שהוזן אינו תקין"},
	}}
	m := newMachine(t, c, nil)

	turn, err := m.Advance(context.Background(), NewState(), "אשר")
	require.NoError(t, err)
	assert.False(t, turn.PhaseChanged)
	assert.Equal(t, PhaseCollecting, turn.State.Phase)
	assert.Nil(t, turn.State.Identity)
	require.Len(t, turn.ToolCalls, 1)
	assert.Contains(t, turn.ToolCalls[0].Result, "gender")
}

// invokeMany requests several calls in one completion, in order.
func invokeMany(name string, args ...string) ToolInvocation {
	calls := make([]schema.ToolCall, len(args))
	for i, a := range args {
		calls[i] = schema.ToolCall{
			ID:       "call_" + strings.Repeat("x", i+1),
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: a},
		}
	}
	return ToolInvocation{Message: schema.AssistantMessage("", calls), Calls: calls}
}

func TestAdvance_LastVerifyCallDecides(t *testing.T) {
	t.Parallel()
	invalid := strings.Replace(validIdentityArgs, `"id_number":"123456789"`, `"id_number":"12"`, 1)

	tests := []struct {
		name         string
		args         []string
		wantVerified bool
	}{
		{"valid then invalid", []string{validIdentityArgs, invalid}, false},
		{"invalid then valid", []string{invalid, validIdentityArgs}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := &scriptedCompleter{script: []Completion{
				invokeMany(tools.VerifyToolName, tc.args...),
				FinalAnswer{Text: "תשובה"},
			}}
			m := newMachine(t, c, nil)

			turn, err := m.Advance(context.Background(), NewState(), "אשר")
			require.NoError(t, err)
			require.Len(t, turn.ToolCalls, 2)
			assert.Equal(t, tc.wantVerified, turn.PhaseChanged)
			if tc.wantVerified {
				assert.Equal(t, PhaseAnswering, turn.State.Phase)
				require.NotNil(t, turn.State.Identity)
			} else {
				assert.Equal(t, PhaseCollecting, turn.State.Phase)
				assert.Nil(t, turn.State.Identity)
			}
		})
	}
}

func TestAdvance_UnknownToolDoesNotCrash(t *testing.T) {
	t.Parallel()
	c := &scriptedCompleter{script: []Completion{
		invoke("delete_everything", `{}`),
		FinalAnswer{Text: "סליחה"},
	}}
	m := newMachine(t, c, nil)

	turn, err := m.Advance(context.Background(), NewState(), "hi")
	require.NoError(t, err)
	assert.Equal(t, PhaseCollecting, turn.State.Phase)
	assert.Contains(t, turn.ToolCalls[0].Result, "unknown tool")
}

// ---------------------------------------------------------------------------
// Answering
// ---------------------------------------------------------------------------

func TestAdvance_AnsweringRetrieves(t *testing.T) {
	t.Parallel()
	fs := &fakeSearcher{}
	c := &scriptedCompleter{script: []Completion{
		invoke(tools.InformationToolName, `{"query":"טיפולי שיניים"}`),
		FinalAnswer{Text: "במסלול זהב מגיעה הנחה של 70%."},
	}}
	m := newMachine(t, c, fs)

	st := verifiedState()
	turn, err := m.Advance(context.Background(), st, "כמה הנחה יש על שיניים?")
	require.NoError(t, err)
	assert.Equal(t, "במסלול זהב מגיעה הנחה של 70%.", turn.Reply)
	assert.False(t, turn.PhaseChanged)
	assert.Equal(t, PhaseAnswering, turn.State.Phase)

	// Omitted hmo and tier default to the verified identity.
	assert.Equal(t, "מכבי", fs.hmo)
	assert.Equal(t, "זהב", fs.tier)
	assert.Equal(t, "טיפולי שיניים", fs.query)

	require.Len(t, c.requests, 2)
	assert.Equal(t, []string{tools.InformationToolName}, c.requests[0].tools)
	assert.Contains(t, c.requests[0].msgs[0].Content, "דנה כהן")
	assert.Contains(t, c.requests[1].msgs[len(c.requests[1].msgs)-1].Content, "מרפאות שיניים")
}

func TestAdvance_AnsweringDirectReply(t *testing.T) {
	t.Parallel()
	c := &scriptedCompleter{script: []Completion{FinalAnswer{Text: "בבקשה"}}}
	m := newMachine(t, c, &fakeSearcher{})

	turn, err := m.Advance(context.Background(), verifiedState(), "תודה")
	require.NoError(t, err)
	assert.Equal(t, "בבקשה", turn.Reply)
	assert.Len(t, c.requests, 1)
}

func TestAdvance_AnsweringWithoutIdentity(t *testing.T) {
	t.Parallel()
	m := newMachine(t, &scriptedCompleter{}, nil)

	_, err := m.Advance(context.Background(), State{Phase: PhaseAnswering}, "q")
	assert.ErrorIs(t, err, ErrInvalidState)
}

// ---------------------------------------------------------------------------
// Failures and history
// ---------------------------------------------------------------------------

func TestAdvance_CompletionFailureKeepsState(t *testing.T) {
	t.Parallel()

	for _, errAt := range []int{1, 2} {
		c := &scriptedCompleter{
			script: []Completion{invoke(tools.VerifyToolName, validIdentityArgs), FinalAnswer{Text: "x"}},
			errAt:  errAt,
		}
		m := newMachine(t, c, nil)

		in := NewState()
		turn, err := m.Advance(context.Background(), in, "hi")
		require.ErrorIs(t, err, ErrCompletion)
		assert.Equal(t, in, turn.State)
		assert.False(t, turn.PhaseChanged)
	}
}

func TestAdvance_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	c := &scriptedCompleter{script: []Completion{FinalAnswer{Text: "a"}, FinalAnswer{Text: "b"}}}
	m := newMachine(t, c, nil)

	first, err := m.Advance(context.Background(), NewState(), "1")
	require.NoError(t, err)
	second, err := m.Advance(context.Background(), first.State, "2")
	require.NoError(t, err)

	assert.Len(t, first.State.History, 2)
	assert.Len(t, second.State.History, 4)
	// Prior history is sent between the system prompt and the new message.
	assert.Len(t, c.requests[1].msgs, 4)
}

func TestAdvance_TrimsHistoryToBudget(t *testing.T) {
	t.Parallel()
	c := &scriptedCompleter{script: []Completion{FinalAnswer{Text: "ok"}}}
	m, err := New(context.Background(), &Config{Completer: c, MaxContextTokens: 1000})
	require.NoError(t, err)

	st := NewState()
	long := strings.Repeat("מילה ", 400)
	for range 10 {
		st.History = append(st.History, schema.UserMessage(long), schema.AssistantMessage(long, nil))
	}

	_, err = m.Advance(context.Background(), st, "שאלה")
	require.NoError(t, err)
	assert.Less(t, len(c.requests[0].msgs), len(st.History)+2)
}

func TestParsePhase(t *testing.T) {
	t.Parallel()
	p, err := ParsePhase("")
	require.NoError(t, err)
	assert.Equal(t, PhaseCollecting, p)
	p, err = ParsePhase("qa")
	require.NoError(t, err)
	assert.Equal(t, PhaseAnswering, p)
	_, err = ParsePhase("done")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// ModelCompleter
// ---------------------------------------------------------------------------

type fakeChatModel struct {
	resp  *schema.Message
	err   error
	bound []*schema.ToolInfo
	opts  *model.Options
}

func (f *fakeChatModel) Generate(_ context.Context, _ []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.opts = model.GetCommonOptions(&model.Options{}, opts...)
	return f.resp, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	f.bound = tools
	return f, nil
}

func TestModelCompleter(t *testing.T) {
	t.Parallel()

	fm := &fakeChatModel{resp: schema.AssistantMessage("שלום", nil)}
	c := NewModelCompleter(fm)
	got, err := c.Complete(context.Background(), []*schema.Message{schema.UserMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, FinalAnswer{Text: "שלום"}, got)
	assert.Nil(t, fm.bound)
	require.NotNil(t, fm.opts.Temperature)
	assert.InDelta(t, 0.1, *fm.opts.Temperature, 1e-6)
	require.NotNil(t, fm.opts.TopP)
	assert.InDelta(t, 0.4, *fm.opts.TopP, 1e-6)

	call := schema.ToolCall{ID: "c", Function: schema.FunctionCall{Name: "get_information", Arguments: "{}"}}
	fm.resp = schema.AssistantMessage("", []schema.ToolCall{call})
	info := &schema.ToolInfo{Name: "get_information"}
	got, err = c.Complete(context.Background(), nil, []*schema.ToolInfo{info})
	require.NoError(t, err)
	inv, ok := got.(ToolInvocation)
	require.True(t, ok)
	assert.Equal(t, "get_information", inv.Calls[0].Function.Name)
	assert.Len(t, fm.bound, 1)

	fm.err = errors.New("429")
	_, err = c.Complete(context.Background(), nil, nil)
	assert.Error(t, err)
}
