// Package conversation drives a member chat session through its two phases:
// collecting and verifying the member's details, then answering questions
// from the services knowledge base. Session state is an explicit value passed
// into and returned from every Advance call; the Machine itself holds no
// per-session data and is safe for concurrent use.
package conversation

import (
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/hmochat-go/internal/identity"
)

// Phase is the session phase.
type Phase string

const (
	// PhaseCollecting gathers and validates the member's details.
	PhaseCollecting Phase = "information_collection"
	// PhaseAnswering answers questions for a verified member.
	PhaseAnswering Phase = "qa"
)

// ParsePhase converts a wire value to a Phase. Empty means PhaseCollecting.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case "", PhaseCollecting:
		return PhaseCollecting, nil
	case PhaseAnswering:
		return PhaseAnswering, nil
	default:
		return "", fmt.Errorf("conversation: invalid phase %q", s)
	}
}

// State is one session's conversation state.
type State struct {
	// Phase only moves forward, Collecting to Answering.
	Phase Phase
	// Identity is set exactly when Phase is PhaseAnswering.
	Identity *identity.Identity
	// History holds the user and assistant messages of completed turns.
	History []*schema.Message
}

// NewState returns the initial state of a session.
func NewState() State {
	return State{Phase: PhaseCollecting}
}

// ToolCall records a tool the model invoked during a turn.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
}

// Turn is the outcome of one Advance call.
type Turn struct {
	// State is the updated session state.
	State State
	// Reply is the assistant text shown to the user.
	Reply string
	// PhaseChanged reports a Collecting to Answering transition in this turn.
	PhaseChanged bool
	// ToolCalls lists the tools invoked while producing Reply.
	ToolCalls []ToolCall
}
