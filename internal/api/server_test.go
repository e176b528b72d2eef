package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/marquee-media-agent/internal/agent"
	"github.com/nugget/marquee-media-agent/internal/connwatch"
	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/talents"
	"github.com/nugget/marquee-media-agent/internal/tools"
	"github.com/nugget/marquee-media-agent/internal/usage"
)

type fakeChat struct {
	mu      sync.Mutex
	err     error
	turns   []string
	sources []string
	ids     []string
}

func (f *fakeChat) Process(ctx context.Context, conversationID, text string) (*agent.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, conversationID+": "+text)
	f.sources = append(f.sources, agent.SourceFromContext(ctx))
	f.ids = append(f.ids, tools.RequestIDFromContext(ctx))
	if f.err != nil {
		return nil, f.err
	}
	if conversationID == "" {
		conversationID = "default"
	}
	return &agent.Response{
		ConversationID: conversationID,
		RequestID:      "r_test0001",
		Content:        "echo: " + text,
		Model:          "test-model",
		Iterations:     1,
		InputTokens:    120,
		OutputTokens:   8,
	}, nil
}

type fakeHistory struct{ reset []string }

func (f *fakeHistory) Reset(id string) { f.reset = append(f.reset, id) }

type fakeCatalog struct{}

func (fakeCatalog) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{Name: "search_plex", Description: "Search the Plex libraries"},
		{Name: "tmdb_search", Description: "Search TMDb"},
	}
}

type fakeUsage struct{}

func (fakeUsage) Summary(time.Time, time.Time) (*usage.Summary, error) {
	return &usage.Summary{TotalRecords: 3, TotalInputTokens: 900, TotalOutputTokens: 60}, nil
}

func (fakeUsage) SummaryByModel(time.Time, time.Time) (map[string]*usage.Summary, error) {
	return map[string]*usage.Summary{"test-model": {TotalRecords: 3}}, nil
}

func (fakeUsage) ToolStats(time.Time, time.Time) ([]usage.ToolStat, error) {
	return []usage.ToolStat{{Tool: "search_plex", Calls: 2}}, nil
}

func newTestServer(t *testing.T, chat *fakeChat, opts ...Option) (*httptest.Server, *fakeHistory) {
	t.Helper()
	history := &fakeHistory{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer("", 0, chat, history, fakeCatalog{}, logger, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, history
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestChat(t *testing.T) {
	chat := &fakeChat{}
	ts, _ := newTestServer(t, chat)

	resp, body := postJSON(t, ts.URL+"/v1/chat", `{"conversation_id":"den","message":"what's on deck?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["reply"] != "echo: what's on deck?" || body["conversation_id"] != "den" {
		t.Errorf("body = %v", body)
	}
	tokens, _ := body["tokens"].(map[string]any)
	if tokens["input"] != float64(120) || tokens["output"] != float64(8) {
		t.Errorf("tokens = %v", tokens)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	if chat.sources[0] != "http" {
		t.Errorf("source = %q, want http", chat.sources[0])
	}
}

func TestChat_CallerRequestID(t *testing.T) {
	chat := &fakeChat{}
	ts, _ := newTestServer(t, chat)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("X-Request-ID", "r_caller01")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "r_caller01" {
		t.Errorf("X-Request-ID = %q", got)
	}
	if chat.ids[0] != "r_caller01" {
		t.Errorf("context request id = %q", chat.ids[0])
	}
}

func TestChat_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"message":`, "invalid request body"},
		{"missing message", `{"conversation_id":"den"}`, "message is required"},
		{"blank message", `{"message":"   "}`, "message is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{}
			ts, _ := newTestServer(t, chat)
			resp, body := postJSON(t, ts.URL+"/v1/chat", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if body["error"] != tt.want {
				t.Errorf("error = %v, want %q", body["error"], tt.want)
			}
			if len(chat.turns) != 0 {
				t.Errorf("loop should not run: %v", chat.turns)
			}
		})
	}
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"llm down", errors.New("dial tcp: connection refused"), http.StatusBadGateway},
		{"timeout", fmt.Errorf("llm call: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"unbound tool", &tools.ErrToolUnavailable{ToolName: "sonarr_lookup"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, &fakeChat{err: tt.err})
			resp, body := postJSON(t, ts.URL+"/v1/chat", `{"message":"hi"}`)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			msg, _ := body["error"].(string)
			if msg != agent.ErrorReply(tt.err) {
				t.Errorf("error = %q, want the human sentence", msg)
			}
			if strings.Contains(msg, "connection refused") {
				t.Errorf("raw error leaked: %q", msg)
			}
		})
	}
}

func TestReset(t *testing.T) {
	ts, history := newTestServer(t, &fakeChat{})

	resp, body := postJSON(t, ts.URL+"/v1/conversations/den/reset", "")
	if resp.StatusCode != http.StatusOK || body["reset"] != true {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if len(history.reset) != 1 || history.reset[0] != "den" {
		t.Errorf("reset = %v", history.reset)
	}
}

func TestTools(t *testing.T) {
	ts, _ := newTestServer(t, &fakeChat{})

	_, body := getJSON(t, ts.URL+"/v1/tools")
	if body["count"] != float64(2) {
		t.Errorf("count = %v", body["count"])
	}
	list, _ := body["tools"].([]any)
	if len(list) != 2 {
		t.Fatalf("tools = %v", body["tools"])
	}
	first, _ := list[0].(map[string]any)
	if first["name"] != "search_plex" {
		t.Errorf("first tool = %v", first)
	}
}

func TestHealth(t *testing.T) {
	chat := &fakeChat{}
	ts, _ := newTestServer(t, chat, WithServices([]talents.Service{
		{Tag: "plex", Name: "Plex", Configured: true},
		{Tag: "sonarr", Name: "Sonarr"},
	}))

	postJSON(t, ts.URL+"/v1/chat", `{"message":"hi"}`)

	_, body := getJSON(t, ts.URL+"/v1/health")
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	services, _ := body["services"].(map[string]any)
	if services["plex"] != true || services["sonarr"] != false {
		t.Errorf("services = %v", services)
	}
	session, _ := body["session"].(map[string]any)
	if session["total_requests"] != float64(1) || session["total_input_tokens"] != float64(120) {
		t.Errorf("session = %v", session)
	}
}

type fakeBackends []connwatch.Status

func (f fakeBackends) Status() []connwatch.Status { return f }

func TestHealth_Backends(t *testing.T) {
	tests := []struct {
		name       string
		backends   fakeBackends
		wantStatus string
	}{
		{
			name: "all reachable",
			backends: fakeBackends{
				{Name: "plex", Ready: true, Checked: true},
				{Name: "radarr", Ready: true, Checked: true},
			},
			wantStatus: "healthy",
		},
		{
			name: "not yet pinged",
			backends: fakeBackends{
				{Name: "plex"},
			},
			wantStatus: "healthy",
		},
		{
			name: "one unreachable",
			backends: fakeBackends{
				{Name: "plex", Ready: true, Checked: true},
				{Name: "sonarr", Checked: true, LastError: "connection refused"},
			},
			wantStatus: "degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, &fakeChat{}, WithBackends(tt.backends))
			_, body := getJSON(t, ts.URL+"/v1/health")
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			backends, _ := body["backends"].([]any)
			if len(backends) != len(tt.backends) {
				t.Errorf("backends = %v", body["backends"])
			}
		})
	}
}

func TestUsage(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		ts, _ := newTestServer(t, &fakeChat{})
		resp, _ := getJSON(t, ts.URL+"/v1/usage")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("bad hours", func(t *testing.T) {
		ts, _ := newTestServer(t, &fakeChat{}, WithUsage(fakeUsage{}))
		resp, _ := getJSON(t, ts.URL+"/v1/usage?hours=-3")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("report", func(t *testing.T) {
		ts, _ := newTestServer(t, &fakeChat{}, WithUsage(fakeUsage{}))
		_, body := getJSON(t, ts.URL+"/v1/usage?hours=6")
		if body["hours"] != float64(6) {
			t.Errorf("hours = %v", body["hours"])
		}
		summary, _ := body["summary"].(map[string]any)
		if summary["total_input_tokens"] != float64(900) {
			t.Errorf("summary = %v", summary)
		}
		stats, _ := body["tools"].([]any)
		if len(stats) != 1 {
			t.Errorf("tools = %v", body["tools"])
		}
	})
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readReply(t *testing.T, conn *websocket.Conn) wsReply {
	t.Helper()
	var reply wsReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return reply
}

func TestWebSocket_Turns(t *testing.T) {
	chat := &fakeChat{}
	ts, _ := newTestServer(t, chat)
	conn := dialWS(t, ts)

	for _, msg := range []string{"first", "second"} {
		if err := conn.WriteJSON(wsFrame{ConversationID: "den", Message: msg}); err != nil {
			t.Fatal(err)
		}
		reply := readReply(t, conn)
		if reply.Error != "" || reply.Reply != "echo: "+msg || reply.ConversationID != "den" {
			t.Errorf("reply = %+v", reply)
		}
		if reply.Tokens == nil || reply.Tokens.Input != 120 {
			t.Errorf("tokens = %+v", reply.Tokens)
		}
	}

	chat.mu.Lock()
	defer chat.mu.Unlock()
	if len(chat.turns) != 2 || chat.sources[0] != "websocket" {
		t.Errorf("turns = %v, sources = %v", chat.turns, chat.sources)
	}
	if chat.ids[0] != "" {
		t.Errorf("each frame should start without a request id, got %q", chat.ids[0])
	}
}

func TestWebSocket_BadFramesKeepConnection(t *testing.T) {
	chat := &fakeChat{}
	ts, _ := newTestServer(t, chat)
	conn := dialWS(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if reply := readReply(t, conn); reply.Error == "" {
		t.Errorf("malformed frame should get an error reply: %+v", reply)
	}

	if err := conn.WriteJSON(wsFrame{Message: " "}); err != nil {
		t.Fatal(err)
	}
	if reply := readReply(t, conn); reply.Error != "message is required" {
		t.Errorf("reply = %+v", reply)
	}

	if err := conn.WriteJSON(wsFrame{Message: "still there?"}); err != nil {
		t.Fatal(err)
	}
	if reply := readReply(t, conn); reply.Reply != "echo: still there?" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestWebSocket_LoopError(t *testing.T) {
	ts, _ := newTestServer(t, &fakeChat{err: errors.New("boom")})
	conn := dialWS(t, ts)

	if err := conn.WriteJSON(wsFrame{ConversationID: "den", Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	reply := readReply(t, conn)
	if reply.Error != agent.ErrorReply(errors.New("boom")) || reply.Reply != "" {
		t.Errorf("reply = %+v", reply)
	}
}
