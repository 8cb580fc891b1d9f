// Package budget estimates token usage and trims chat history to fit the
// model's context window. The backends use different tokenizers, so the
// estimate is a character heuristic: 1 token ≈ 4 characters. Characters are
// counted as runes so Hebrew text (two bytes per letter in UTF-8) is not
// double-counted.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// perMessageOverhead approximates the role and framing tokens most chat
	// APIs add for each message.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// It fits 8k-context models with room left for the reply.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	runes := utf8.RuneCountInString(s)
	n := runes / charsPerToken
	if n == 0 && runes > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs,
// including tool-call names and arguments.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
		for _, tc := range m.ToolCalls {
			total += Estimate(tc.Function.Name) + Estimate(tc.Function.Arguments)
		}
	}
	return total
}

// TrimHistory drops the oldest history messages until fixed + history fits
// within maxTokens. fixed (system prompt, current user message) is never
// trimmed. After trimming, history never starts with an assistant or tool
// message, so the model never sees a reply without the question that
// prompted it.
//
// If even an empty history exceeds the budget, an empty slice is returned.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)
	trimmed := false
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
		trimmed = true
	}
	if trimmed {
		for len(history) > 0 && history[0].Role != schema.User {
			history = history[1:]
		}
	}
	return history
}
