// Package api implements the HTTP and WebSocket chat surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/marquee-media-agent/internal/agent"
	"github.com/nugget/marquee-media-agent/internal/buildinfo"
	"github.com/nugget/marquee-media-agent/internal/connwatch"
	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/talents"
	"github.com/nugget/marquee-media-agent/internal/tools"
	"github.com/nugget/marquee-media-agent/internal/usage"
)

// maxBodyBytes bounds chat request bodies.
const maxBodyBytes = 64 << 10

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Chatter runs one chat turn. *agent.Loop satisfies it.
type Chatter interface {
	Process(ctx context.Context, conversationID, text string) (*agent.Response, error)
}

// Resetter clears a conversation. *conversation.Store satisfies it.
type Resetter interface {
	Reset(id string)
}

// Catalog lists the advertised tools. *tools.Registry satisfies it.
type Catalog interface {
	Definitions() []llm.ToolDefinition
}

// UsageReporter answers usage queries. *usage.Store satisfies it.
type UsageReporter interface {
	Summary(start, end time.Time) (*usage.Summary, error)
	SummaryByModel(start, end time.Time) (map[string]*usage.Summary, error)
	ToolStats(start, end time.Time) ([]usage.ToolStat, error)
}

// BackendWatcher reports live backend reachability. *connwatch.Manager
// satisfies it.
type BackendWatcher interface {
	Status() []connwatch.Status
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	chat     Chatter
	history  Resetter
	catalog  Catalog
	usage    UsageReporter
	services []talents.Service
	backends BackendWatcher
	logger   *slog.Logger
	server   *http.Server
	stats    *SessionStats
}

// SessionStats tracks token usage since the server started.
type SessionStats struct {
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
	TotalRequests     int64 `json:"total_requests"`
	TotalToolCalls    int64 `json:"total_tool_calls"`
	mu                sync.Mutex
}

// Record adds one completed turn.
func (s *SessionStats) Record(resp *agent.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalInputTokens += int64(resp.InputTokens)
	s.TotalOutputTokens += int64(resp.OutputTokens)
	s.TotalToolCalls += int64(resp.ToolCalls)
	s.TotalRequests++
}

// SessionStatsSnapshot is a copy-safe snapshot of session stats.
type SessionStatsSnapshot struct {
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
	TotalRequests     int64 `json:"total_requests"`
	TotalToolCalls    int64 `json:"total_tool_calls"`
}

// Snapshot returns the current totals.
func (s *SessionStats) Snapshot() SessionStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatsSnapshot{
		TotalInputTokens:  s.TotalInputTokens,
		TotalOutputTokens: s.TotalOutputTokens,
		TotalRequests:     s.TotalRequests,
		TotalToolCalls:    s.TotalToolCalls,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithUsage enables GET /v1/usage.
func WithUsage(u UsageReporter) Option {
	return func(s *Server) { s.usage = u }
}

// WithServices lists backend status in GET /v1/health.
func WithServices(services []talents.Service) Option {
	return func(s *Server) { s.services = services }
}

// WithBackends adds live reachability to GET /v1/health.
func WithBackends(b BackendWatcher) Option {
	return func(s *Server) { s.backends = b }
}

// NewServer creates a new API server.
func NewServer(address string, port int, chat Chatter, history Resetter, catalog Catalog, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		address: address,
		port:    port,
		chat:    chat,
		history: history,
		catalog: catalog,
		logger:  logger,
		stats:   &SessionStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler with request ids and logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/conversations/{id}/reset", s.handleReset)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // tool rounds can be slow
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// withLogging tags each request with an id (the caller's X-Request-ID
// when present) and logs it on completion.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(tools.WithRequestID(r.Context(), requestID))

		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Marquee",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// TokenCounts reports tokens spent on one turn.
type TokenCounts struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// ChatResponse is the reply to POST /v1/chat.
type ChatResponse struct {
	ConversationID string      `json:"conversation_id"`
	RequestID      string      `json:"request_id"`
	Reply          string      `json:"reply"`
	Model          string      `json:"model"`
	Iterations     int         `json:"iterations"`
	ToolCalls      int         `json:"tool_calls"`
	Tokens         TokenCounts `json:"tokens"`
}

func newChatResponse(resp *agent.Response) ChatResponse {
	return ChatResponse{
		ConversationID: resp.ConversationID,
		RequestID:      resp.RequestID,
		Reply:          resp.Content,
		Model:          resp.Model,
		Iterations:     resp.Iterations,
		ToolCalls:      resp.ToolCalls,
		Tokens:         TokenCounts{Input: resp.InputTokens, Output: resp.OutputTokens},
	}
}

// handleChat runs one turn.
// POST /v1/chat {"conversation_id": "den", "message": "what's on deck?"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := agent.WithSource(r.Context(), "http")
	resp, err := s.chat.Process(ctx, req.ConversationID, req.Message)
	if err != nil {
		s.logger.Error("agent loop failed", "conversation_id", req.ConversationID, "error", err)
		s.errorResponse(w, statusFor(err), agent.ErrorReply(err))
		return
	}
	s.stats.Record(resp)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, newChatResponse(resp), s.logger)
}

// statusFor maps a turn failure to an HTTP status.
func statusFor(err error) int {
	var unavailable *tools.ErrToolUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &unavailable):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.history.Reset(id)
	s.logger.Info("conversation reset", "conversation_id", id)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversation_id": id, "reset": true}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	defs := s.catalog.Definitions()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"count": len(defs), "tools": defs}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]bool, len(s.services))
	for _, svc := range s.services {
		services[svc.Tag] = svc.Configured
	}

	body := map[string]any{
		"status":   "healthy",
		"version":  buildinfo.Version,
		"uptime":   buildinfo.Uptime().String(),
		"services": services,
		"session":  s.stats.Snapshot(),
	}
	if s.backends != nil {
		backends := s.backends.Status()
		for _, b := range backends {
			if b.Checked && !b.Ready {
				body["status"] = "degraded"
			}
		}
		body["backends"] = backends
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, body, s.logger)
}

// handleUsage reports token and tool usage for the last ?hours=N
// (default 24).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusNotFound, "usage recording is not enabled")
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorResponse(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	summary, err := s.usage.Summary(start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	byModel, err := s.usage.SummaryByModel(start, end)
	if err != nil {
		s.logger.Error("usage by model failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}
	toolStats, err := s.usage.ToolStats(start, end)
	if err != nil {
		s.logger.Error("tool stats failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"hours":    hours,
		"summary":  summary,
		"by_model": byModel,
		"tools":    toolStats,
	}, s.logger)
}
