package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrCompletion wraps every failure of the chat completion backend.
var ErrCompletion = errors.New("chat completion failed")

// Sampling parameters used for every completion.
const (
	defaultTemperature float32 = 0.1
	defaultTopP        float32 = 0.4
)

// Completion is the result of a chat completion: either a FinalAnswer or a
// ToolInvocation.
type Completion interface {
	completion()
}

// FinalAnswer is a plain text reply.
type FinalAnswer struct {
	Text string
}

// ToolInvocation asks the caller to run one or more tools and report back.
type ToolInvocation struct {
	// Message is the assistant message carrying the calls. It must precede
	// the tool result messages in the follow-up request.
	Message *schema.Message
	// Calls are the requested invocations in model order.
	Calls []schema.ToolCall
}

func (FinalAnswer) completion()    {}
func (ToolInvocation) completion() {}

// Completer produces a completion for a message list, optionally offering
// tools the model may call.
type Completer interface {
	Complete(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (Completion, error)
}

// ModelCompleter adapts an Eino ToolCallingChatModel to Completer.
type ModelCompleter struct {
	model       model.ToolCallingChatModel
	temperature float32
	topP        float32
}

// NewModelCompleter wraps m with the default sampling parameters.
func NewModelCompleter(m model.ToolCallingChatModel) *ModelCompleter {
	return &ModelCompleter{model: m, temperature: defaultTemperature, topP: defaultTopP}
}

// Complete binds tools (if any) and calls Generate.
func (c *ModelCompleter) Complete(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (Completion, error) {
	m := c.model
	if len(tools) > 0 {
		bound, err := m.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("binding tools: %w", err)
		}
		m = bound
	}

	resp, err := m.Generate(ctx, msgs,
		model.WithTemperature(c.temperature),
		model.WithTopP(c.topP),
	)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("model returned no message")
	}
	if len(resp.ToolCalls) > 0 {
		return ToolInvocation{Message: resp, Calls: resp.ToolCalls}, nil
	}
	return FinalAnswer{Text: resp.Content}, nil
}
