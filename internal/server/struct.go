package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/hmochat-go/internal/conversation"
	"github.com/54b3r/hmochat-go/internal/identity"
	"github.com/54b3r/hmochat-go/internal/retrieval"
	"github.com/54b3r/hmochat-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds one /api/chat turn, including both completions and
	// any retrieval. Defaults to 2 minutes.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// AdminKey is the Bearer token for /api/admin/*. If empty the admin
	// routes are not registered.
	AdminKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// Transcripts, when non-nil, records every completed chat turn.
	Transcripts store.TranscriptStore
	// Reloader, when non-nil, backs POST /api/admin/reload.
	Reloader Reloader
}

// advancer runs one conversation turn. *conversation.Machine satisfies it;
// tests inject a fake.
type advancer interface {
	Advance(ctx context.Context, st conversation.State, userMessage string) (conversation.Turn, error)
}

// searcher answers /api/search. *retrieval.Service satisfies it.
type searcher interface {
	Search(ctx context.Context, query, hmo, tier string, topK int) retrieval.Result
}

// Reloader rebuilds the served corpus and reports its record count.
// *rag.DirLoader satisfies it.
type Reloader interface {
	Reload(ctx context.Context) (int, error)
}

// Server is the HTTP server that exposes the member chat and the services
// search.
type Server struct {
	// chat advances conversation turns.
	chat advancer
	// search answers direct retrieval queries.
	search searcher
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// limiters holds the per-client token buckets for the protected routes.
	limiters *clientLimiters
}

// chatMessage is one prior message of the conversation as held by the client.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON body for POST /api/chat. The client owns the
// session state and sends it back on every turn; the last message must be
// the user's new message.
type chatRequest struct {
	Messages []chatMessage `json:"messages"`
	// UserInfo is the verified member record returned by an earlier turn.
	// Required when ConversationPhase is "qa".
	UserInfo *identity.RawIdentity `json:"user_info,omitempty"`
	// ConversationPhase is "information_collection" (default) or "qa".
	ConversationPhase string `json:"conversation_phase"`
	// SessionID groups turns in the transcript store. Generated when empty.
	SessionID string `json:"session_id,omitempty"`
}

// toolFunction mirrors the function part of an OpenAI tool call.
type toolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// toolCallView is a tool call as reported to the client.
type toolCallView struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	Response          string             `json:"response"`
	ConversationPhase string             `json:"conversation_phase"`
	UserInfo          *identity.Identity `json:"user_info,omitempty"`
	ToolCalls         []toolCallView     `json:"tool_calls,omitempty"`
	// MessageToAdd is the assistant message the client appends to its history.
	MessageToAdd chatMessage `json:"message_to_add"`
	SessionID    string      `json:"session_id"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	Query string `json:"query"`
	HMO   string `json:"hmo"`
	Tier  string `json:"tier"`
	TopK  int    `json:"top_k,omitempty"`
}

// reloadResponse is the JSON response for POST /api/admin/reload.
type reloadResponse struct {
	Records int `json:"records"`
}

// errorResponse is the JSON body of every 4xx/5xx produced by a handler.
type errorResponse struct {
	Error string `json:"error"`
}
