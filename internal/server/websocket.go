package server

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const timeoutNotice = "Session timeout. Please refresh if you need continued assistance."

type wsInbound struct {
	Message     string `json:"message"`
	SessionID   string `json:"session_id"`
	MessageType string `json:"message_type"`
}

func (m wsInbound) valid() bool {
	trimmed := strings.TrimSpace(m.Message)
	return trimmed != "" && len(m.Message) <= 1000
}

type wsOutbound struct {
	Message               string `json:"message,omitempty"`
	Error                 string `json:"error,omitempty"`
	Role                  string `json:"role"`
	ShowEscalationButtons bool   `json:"show_escalation_buttons,omitempty"`
	EscalationReason      string `json:"escalation_reason,omitempty"`
	SessionID             string `json:"session_id,omitempty"`
}

// handleWebSocket runs a chat conversation over one websocket
// connection. Each connection gets a fresh session that is cleaned up
// on disconnect; an idle read deadline bounds abandoned connections.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	logger := s.logger.With("session_id", sessionID)

	defer func() {
		// The request context is already cancelled once the client is
		// gone, so cleanup runs on a fresh one.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.deps.Store.Delete(cleanupCtx, sessionID); err != nil {
			logger.Error("websocket session cleanup failed", "error", err)
		}
		if s.deps.Controller != nil {
			s.deps.Controller.ReleaseSession(sessionID)
		}
	}()

	writeJSON := func(msg wsOutbound) bool {
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("websocket write failed", "error", err)
			return false
		}
		return true
	}

	if !writeJSON(wsOutbound{Message: WelcomeMessage, Role: "bot", SessionID: sessionID}) {
		return
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))

		var inbound wsInbound
		if err := conn.ReadJSON(&inbound); err != nil {
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				logger.Info("websocket idle timeout")
				writeJSON(wsOutbound{Message: timeoutNotice, Role: "system"})
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Info("websocket disconnected")
				return
			}
			// Malformed JSON is recoverable; a broken connection is not.
			if _, ok := err.(*websocket.CloseError); ok {
				return
			}
			if !writeJSON(wsOutbound{Error: "Invalid message format", Role: "system"}) {
				return
			}
			continue
		}
		if !inbound.valid() {
			if !writeJSON(wsOutbound{Error: "Invalid message format", Role: "system"}) {
				return
			}
			continue
		}

		if s.deps.Controller == nil {
			if !writeJSON(wsOutbound{Error: "Service temporarily unavailable", Role: "system"}) {
				return
			}
			continue
		}

		// A client may continue an existing HTTP session over the socket.
		currentSessionID := inbound.SessionID
		if currentSessionID == "" {
			currentSessionID = sessionID
		}

		if err := s.acquireWorker(c.Request.Context()); err != nil {
			s.deps.Metrics.IncChatRequest("websocket", "error")
			if !writeJSON(wsOutbound{Error: "Service temporarily unavailable", Role: "system"}) {
				return
			}
			continue
		}
		start := time.Now()
		reply := s.deps.Controller.HandleTurn(c.Request.Context(), currentSessionID, inbound.Message)
		s.releaseWorker()
		s.deps.Metrics.ObserveTurnDuration("websocket", time.Since(start))
		s.deps.Metrics.IncChatRequest("websocket", "ok")
		if reply.ShowEscalationButtons {
			s.deps.Metrics.IncEscalation(string(reply.EscalationReason))
		}

		if !writeJSON(wsOutbound{
			Message:               reply.Message,
			Role:                  "bot",
			ShowEscalationButtons: reply.ShowEscalationButtons,
			EscalationReason:      string(reply.EscalationReason),
			SessionID:             currentSessionID,
		}) {
			return
		}
	}
}
