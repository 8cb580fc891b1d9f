// Package tools defines the callable functions offered to the model during a
// chat session: verify_user_information while member details are collected,
// and get_information once the member is verified. Each tool satisfies both
// this package's NamedTool interface and Eino's tool.InvokableTool so it can
// be bound directly to a ToolCallingChatModel.
package tools

import (
	"context"

	"github.com/54b3r/hmochat-go/internal/identity"
	"github.com/54b3r/hmochat-go/internal/retrieval"
)

// NamedTool extends the Eino tool contract with a Name accessor so the state
// machine can log and route tool calls by name without type assertions.
type NamedTool interface {
	// Name returns the unique tool name advertised to the model.
	Name() string

	// Description returns a human-readable description of what the tool does.
	// This text is sent to the LLM as part of the tool schema.
	Description() string
}

// InformationSearcher answers a free-text query scoped to a health fund and
// insurance tier. *retrieval.Service satisfies it.
type InformationSearcher interface {
	Search(ctx context.Context, query, hmo, tier string, topK int) retrieval.Result
}

// identityKey is the context key for the verified member record.
type identityKey struct{}

// WithIdentity returns a copy of ctx carrying the verified member record.
// get_information falls back to its health fund and tier when the model
// omits them.
func WithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the member record stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(identity.Identity)
	return id, ok
}
