package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/hmochat-go/internal/budget"
	"github.com/54b3r/hmochat-go/internal/identity"
	"github.com/54b3r/hmochat-go/internal/logging"
	"github.com/54b3r/hmochat-go/internal/tools"
)

// ErrInvalidState is returned for a state that violates the phase rules,
// such as PhaseAnswering without an identity.
var ErrInvalidState = errors.New("invalid conversation state")

// Config holds the dependencies for a Machine.
type Config struct {
	// Completer produces model completions. Required.
	Completer Completer

	// AnsweringTools are offered to the model once the member is verified,
	// typically a single *tools.InformationTool.
	AnsweringTools []tool.InvokableTool

	// MaxContextTokens is the estimated token budget for each completion
	// request. History is trimmed oldest-first to fit. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// Machine advances conversation states. It keeps no per-session data.
type Machine struct {
	completer  Completer
	verifier   *tools.VerifyTool
	verifyInfo *schema.ToolInfo

	answering      map[string]tool.InvokableTool
	answeringInfos []*schema.ToolInfo

	maxContextTokens int
}

// New constructs a Machine from cfg.
func New(ctx context.Context, cfg *Config) (*Machine, error) {
	if cfg == nil || cfg.Completer == nil {
		return nil, fmt.Errorf("conversation: Completer must not be nil")
	}

	verifier := tools.NewVerifyTool()
	verifyInfo, err := verifier.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: describing %s: %w", verifier.Name(), err)
	}

	m := &Machine{
		completer:        cfg.Completer,
		verifier:         verifier,
		verifyInfo:       verifyInfo,
		answering:        make(map[string]tool.InvokableTool, len(cfg.AnsweringTools)),
		maxContextTokens: cfg.MaxContextTokens,
	}
	if m.maxContextTokens <= 0 {
		m.maxContextTokens = budget.DefaultMaxContextTokens
	}
	for _, t := range cfg.AnsweringTools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("conversation: describing answering tool: %w", err)
		}
		m.answering[info.Name] = t
		m.answeringInfos = append(m.answeringInfos, info)
	}
	return m, nil
}

// Advance runs one user turn against st and returns the updated state with
// the assistant reply. st is never modified. On a completion failure the
// returned Turn carries st unchanged and the error wraps ErrCompletion.
func (m *Machine) Advance(ctx context.Context, st State, userMessage string) (Turn, error) {
	switch st.Phase {
	case PhaseCollecting:
		return m.collect(ctx, st, userMessage)
	case PhaseAnswering:
		if st.Identity == nil {
			return Turn{State: st}, fmt.Errorf("%w: %s phase without identity", ErrInvalidState, st.Phase)
		}
		return m.answer(ctx, st, userMessage)
	default:
		return Turn{State: st}, fmt.Errorf("%w: unknown phase %q", ErrInvalidState, st.Phase)
	}
}

// collect offers verify_user_information and moves to PhaseAnswering when a
// call validates.
func (m *Machine) collect(ctx context.Context, st State, userMessage string) (Turn, error) {
	log := logging.FromContext(ctx)
	msgs := m.buildMessages(ctx, collectingPrompt, st.History, userMessage)

	var verified *identity.Identity
	reply, calls, err := m.complete(ctx, msgs, []*schema.ToolInfo{m.verifyInfo},
		func(_ context.Context, call schema.ToolCall) string {
			if call.Function.Name != m.verifier.Name() {
				return unknownToolResult(call.Function.Name)
			}
			// The last verify call in a turn decides.
			id, msg, ok := m.verifier.Verify(call.Function.Arguments)
			if ok {
				verified = &id
			} else {
				verified = nil
				log.Info("conversation: identity validation failed", slog.String("reason", msg))
			}
			return msg
		})
	if err != nil {
		return m.fail(ctx, st, err)
	}

	turn := Turn{State: appendTurn(st, userMessage, reply), Reply: reply, ToolCalls: calls}
	if verified != nil {
		turn.State.Phase = PhaseAnswering
		turn.State.Identity = verified
		turn.PhaseChanged = true
		log.Info("conversation: member verified, answering questions",
			slog.String("health_fund", verified.HealthFund),
			slog.String("insurance_tier", verified.InsuranceTier),
		)
	}
	return turn, nil
}

// answer offers the answering tools with the member record in context.
func (m *Machine) answer(ctx context.Context, st State, userMessage string) (Turn, error) {
	ctx = tools.WithIdentity(ctx, *st.Identity)
	msgs := m.buildMessages(ctx, answeringPrompt(*st.Identity), st.History, userMessage)

	reply, calls, err := m.complete(ctx, msgs, m.answeringInfos,
		func(ctx context.Context, call schema.ToolCall) string {
			t, ok := m.answering[call.Function.Name]
			if !ok {
				return unknownToolResult(call.Function.Name)
			}
			out, err := t.InvokableRun(ctx, call.Function.Arguments)
			if err != nil {
				logging.FromContext(ctx).Warn("conversation: tool call failed",
					slog.String("tool", call.Function.Name),
					slog.String("error", err.Error()),
				)
				return "error: " + err.Error()
			}
			return out
		})
	if err != nil {
		return m.fail(ctx, st, err)
	}

	return Turn{State: appendTurn(st, userMessage, reply), Reply: reply, ToolCalls: calls}, nil
}

// complete runs the first completion with tools offered. If the model calls
// tools, run executes each call, the results are appended as tool messages
// and a second completion without tools produces the reply.
func (m *Machine) complete(
	ctx context.Context,
	msgs []*schema.Message,
	offered []*schema.ToolInfo,
	run func(context.Context, schema.ToolCall) string,
) (string, []ToolCall, error) {
	first, err := m.completer.Complete(ctx, msgs, offered)
	if err != nil {
		return "", nil, err
	}

	inv, ok := first.(ToolInvocation)
	if !ok {
		return textOf(first), nil, nil
	}

	followUp := slices.Clone(msgs)
	followUp = append(followUp, inv.Message)
	calls := make([]ToolCall, 0, len(inv.Calls))
	for _, call := range inv.Calls {
		result := run(ctx, call)
		followUp = append(followUp, schema.ToolMessage(result, call.ID))
		calls = append(calls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
			Result:    result,
		})
		logging.FromContext(ctx).Debug("conversation: tool call",
			slog.String("tool", call.Function.Name),
			slog.Int("result_bytes", len(result)),
		)
	}

	second, err := m.completer.Complete(ctx, followUp, nil)
	if err != nil {
		return "", calls, err
	}
	return textOf(second), calls, nil
}

// buildMessages assembles [system, ...history, user], trimming history
// oldest-first to fit the token budget.
func (m *Machine) buildMessages(ctx context.Context, system string, history []*schema.Message, userMessage string) []*schema.Message {
	sys := schema.SystemMessage(system)
	user := schema.UserMessage(userMessage)

	before := len(history)
	history = budget.TrimHistory([]*schema.Message{sys, user}, history, m.maxContextTokens)
	if dropped := before - len(history); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
			slog.Int("max_tokens", m.maxContextTokens),
		)
	}

	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, sys)
	msgs = append(msgs, history...)
	msgs = append(msgs, user)
	return msgs
}

func (m *Machine) fail(ctx context.Context, st State, err error) (Turn, error) {
	logging.FromContext(ctx).Error("conversation: completion failed",
		slog.String("phase", string(st.Phase)),
		slog.String("error", err.Error()),
	)
	return Turn{State: st}, fmt.Errorf("%w: %w", ErrCompletion, err)
}

// appendTurn returns a copy of st with the user message and reply added.
func appendTurn(st State, userMessage, reply string) State {
	history := make([]*schema.Message, 0, len(st.History)+2)
	history = append(history, st.History...)
	history = append(history, schema.UserMessage(userMessage), schema.AssistantMessage(reply, nil))
	st.History = history
	return st
}

func textOf(c Completion) string {
	switch v := c.(type) {
	case FinalAnswer:
		return v.Text
	case ToolInvocation:
		if v.Message != nil {
			return v.Message.Content
		}
	}
	return ""
}

func unknownToolResult(name string) string {
	return fmt.Sprintf("error: unknown tool %q", name)
}
