package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/common/errors"
	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/internal/session"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 1024 * 1024 // 1MB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsPromptMessage is sent by clients to start a prompt turn
type wsPromptMessage struct {
	Text string `json:"text"`
}

// wsUpdateMessage carries one session update to the client
type wsUpdateMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Update    interface{} `json:"update,omitempty"`
}

// wsResultMessage closes out a turn
type wsResultMessage struct {
	Type       string `json:"type"`
	StopReason string `json:"stop_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StreamPrompt runs prompt turns over a WebSocket, forwarding session
// updates as they arrive instead of collecting them like SendPrompt does.
// Each client message starts one turn; the turn's updates stream back
// followed by a result frame.
// GET /api/v1/agents/:instanceId/sessions/:sessionId/stream
func (h *Handler) StreamPrompt(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsMaxMessageSize)
	log := h.logger.WithSessionID(s.ID())

	for {
		var msg wsPromptMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if msg.Text == "" {
			appErr := errors.BadRequest("text is required")
			_ = writeJSON(conn, wsResultMessage{Type: "error", Error: appErr.Message})
			continue
		}

		if err := h.streamTurn(c.Request.Context(), conn, s, msg.Text, log); err != nil {
			return
		}
	}
}

// streamTurn runs one prompt turn and forwards its updates. A write failure
// abandons the consumer side; the turn itself drains to completion.
func (h *Handler) streamTurn(ctx context.Context, conn *websocket.Conn, s *session.Session, text string, log *logger.Logger) error {
	ps, err := s.PromptText(ctx, text)
	if err != nil {
		return writeJSON(conn, wsResultMessage{Type: "error", Error: err.Error()})
	}
	defer ps.Close()

	for item := range ps.Updates() {
		update := wsUpdateMessage{
			Type:      "update",
			SessionID: item.SessionID,
			Update:    item.Update,
		}
		if err := writeJSON(conn, update); err != nil {
			log.Warn("websocket write failed, abandoning stream", zap.Error(err))
			return err
		}
	}

	result, err := ps.Result()
	if err != nil {
		return writeJSON(conn, wsResultMessage{Type: "error", Error: err.Error()})
	}
	return writeJSON(conn, wsResultMessage{Type: "result", StopReason: result.StopReason})
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
