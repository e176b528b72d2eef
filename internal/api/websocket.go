package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/marquee-media-agent/internal/agent"
	"github.com/nugget/marquee-media-agent/internal/tools"
)

const (
	wsReadLimit  = maxBodyBytes
	wsPongWait   = 90 * time.Second
	wsPingPeriod = 60 * time.Second
	wsWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
	// The API is meant for trusted LAN clients; browsers on other
	// origins are allowed.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsFrame is one inbound chat message.
type wsFrame struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// wsReply answers one frame. Exactly one of Reply and Error is set.
type wsReply struct {
	ConversationID string       `json:"conversation_id,omitempty"`
	RequestID      string       `json:"request_id,omitempty"`
	Reply          string       `json:"reply,omitempty"`
	Tokens         *TokenCounts `json:"tokens,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// handleWebSocket serves a chat stream: each text frame is one turn and
// is answered in order on the same connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := agent.WithSource(r.Context(), "websocket")
	connID := tools.RequestIDFromContext(r.Context())
	log := s.logger.With("ws_conn", connID)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// The ping goroutine and the read loop both write, so writes are
	// serialized through one goroutine.
	out := make(chan wsReply)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.wsWriter(conn, out, done)
	}()
	defer func() {
		close(done)
		<-writerDone
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket read failed", "error", err)
			} else {
				log.Info("websocket closed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			out <- wsReply{Error: "frames must be JSON objects with a message field"}
			continue
		}

		if strings.TrimSpace(frame.Message) == "" {
			out <- wsReply{ConversationID: frame.ConversationID, Error: "message is required"}
			continue
		}

		// Each frame gets its own request id.
		turnCtx := tools.WithRequestID(ctx, "")
		resp, err := s.chat.Process(turnCtx, frame.ConversationID, frame.Message)
		if err != nil {
			log.Error("agent loop failed", "conversation_id", frame.ConversationID, "error", err)
			out <- wsReply{ConversationID: frame.ConversationID, Error: agent.ErrorReply(err)}
			continue
		}
		s.stats.Record(resp)
		out <- wsReply{
			ConversationID: resp.ConversationID,
			RequestID:      resp.RequestID,
			Reply:          resp.Content,
			Tokens:         &TokenCounts{Input: resp.InputTokens, Output: resp.OutputTokens},
		}
	}
}

func (s *Server) wsWriter(conn *websocket.Conn, out <-chan wsReply, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("websocket ping failed", "error", err)
			}
		}
	}
}
