// Package server implements the HTTP API that exposes the member chat and
// the services search. The server is started by the `hmochat serve` CLI
// command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/hmochat-go/internal/conversation"
	"github.com/54b3r/hmochat-go/internal/identity"
	"github.com/54b3r/hmochat-go/internal/logging"
	"github.com/54b3r/hmochat-go/internal/store"
	"github.com/54b3r/hmochat-go/internal/version"
)

// maxBodyBytes caps request bodies on the JSON endpoints.
const maxBodyBytes = 1 << 20

// Client-facing chat failures. Causes go to the log only.
const (
	msgChatUnavailable = "chat backend unavailable"
	msgChatTimeout     = "chat turn timed out"
	msgChatInvalid     = "invalid conversation state"
)

// New constructs a Server around the conversation machine and the retrieval
// service.
func New(machine *conversation.Machine, search searcher, cfg *Config) (*Server, error) {
	if machine == nil {
		return nil, fmt.Errorf("server: conversation machine must not be nil")
	}
	if search == nil {
		return nil, fmt.Errorf("server: searcher must not be nil")
	}
	return newServer(machine, search, cfg), nil
}

func newServer(chat advancer, search searcher, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.ChatTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		chat:    chat,
		search:  search,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	s.limiters = newClientLimiters(cfg.RateLimit, cfg.RateBurst, s.metrics.rateLimitedTotal)

	protect := func(name string, h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, s.limiters.wrap(name, s.instrument(name, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", protect("chat", s.handleChat))
	mux.Handle("POST /api/search", protect("search", s.handleSearch))
	mux.Handle("GET /api/health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /api/ready", s.instrument("ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	if cfg.AdminKey != "" && cfg.Reloader != nil {
		mux.Handle("POST /api/admin/reload",
			authMiddleware(cfg.AdminKey, s.instrument("reload", s.handleReload)))
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: API key not set, /api/chat and /api/search are unauthenticated")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	stopSweep := make(chan struct{})
	go s.limiters.run(stopSweep)
	defer close(stopSweep)

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("hmochat server listening",
			slog.String("addr", "http://"+s.httpServer.Addr),
			slog.String("version", version.Version),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. The client sends the whole session
// (messages, phase, verified member record) and receives the reply plus the
// updated phase and record to send back next turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || strings.TrimSpace(last.Content) == "" {
		writeError(w, http.StatusBadRequest, "last message must be a non-empty user message")
		return
	}

	st, err := stateFromRequest(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log = log.With(slog.String("session_id", sessionID), slog.String("phase", string(st.Phase)))

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	s.metrics.chatInFlight.Inc()
	defer s.metrics.chatInFlight.Dec()
	start := time.Now()

	turn, err := s.chat.Advance(ctx, st, last.Content)
	if err != nil {
		outcome, status, msg := "error", http.StatusBadGateway, msgChatUnavailable
		switch {
		case errors.Is(err, conversation.ErrInvalidState):
			outcome, status, msg = "invalid", http.StatusBadRequest, msgChatInvalid
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			outcome, status, msg = "timeout", http.StatusGatewayTimeout, msgChatTimeout
		}
		s.observeChat(outcome, start)
		log.Error("chat turn failed", slog.String("outcome", outcome), slog.Any("error", err))
		writeError(w, status, msg)
		return
	}
	s.observeChat("ok", start)
	if turn.PhaseChanged {
		s.metrics.phaseTransitionsTotal.Inc()
		log.Info("member verified, switching to qa")
	}

	if s.cfg.Transcripts != nil {
		if err := s.cfg.Transcripts.AppendTurn(ctx, sessionID, store.FromTurn(st.Phase, last.Content, turn)); err != nil {
			log.Warn("transcript append failed", slog.Any("error", err))
		}
	}

	resp := chatResponse{
		Response:          turn.Reply,
		ConversationPhase: string(turn.State.Phase),
		UserInfo:          turn.State.Identity,
		MessageToAdd:      chatMessage{Role: "assistant", Content: turn.Reply},
		SessionID:         sessionID,
	}
	for _, c := range turn.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, toolCallView{
			ID:       c.ID,
			Type:     "function",
			Function: toolFunction{Name: c.Name, Arguments: c.Arguments},
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// stateFromRequest rebuilds the conversation state the client carries.
// Prior messages with roles other than user and assistant are dropped.
func stateFromRequest(req *chatRequest) (conversation.State, error) {
	phase, err := conversation.ParsePhase(req.ConversationPhase)
	if err != nil {
		return conversation.State{}, fmt.Errorf("invalid conversation phase: %s", req.ConversationPhase)
	}
	st := conversation.State{Phase: phase}

	if phase == conversation.PhaseAnswering {
		if req.UserInfo == nil {
			return conversation.State{}, errors.New("user_info is required in the qa phase")
		}
		id, err := identity.Validate(*req.UserInfo)
		if err != nil {
			return conversation.State{}, fmt.Errorf("invalid user_info: %s", identity.Message(err))
		}
		st.Identity = &id
	}

	prior := req.Messages[:len(req.Messages)-1]
	for _, m := range prior {
		switch m.Role {
		case "user":
			st.History = append(st.History, schema.UserMessage(m.Content))
		case "assistant":
			st.History = append(st.History, schema.AssistantMessage(m.Content, nil))
		}
	}
	return st, nil
}

// handleSearch handles POST /api/search, a direct retrieval query that
// bypasses the model.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	res := s.search.Search(r.Context(), req.Query, req.HMO, req.Tier, req.TopK)
	status := http.StatusOK
	if res.Error != "" {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// handleReload handles POST /api/admin/reload. The previous corpus keeps
// serving when the rebuild fails.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	n, err := s.cfg.Reloader.Reload(r.Context())
	if err != nil {
		log.Error("corpus reload failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "corpus reload failed")
		return
	}
	log.Info("corpus reloaded", slog.Int("records", n))
	writeJSON(w, http.StatusOK, reloadResponse{Records: n})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
}

func (s *Server) observeChat(outcome string, start time.Time) {
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
