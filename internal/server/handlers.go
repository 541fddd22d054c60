package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"concierge/internal/summary"
)

type chatRequest struct {
	Query     string `json:"query" binding:"required,min=1,max=1000"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Message               string `json:"message"`
	ShowEscalationButtons bool   `json:"show_escalation_buttons"`
	EscalationReason      string `json:"escalation_reason,omitempty"`
	SessionID             string `json:"session_id"`
}

type errorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, StatusCode: status})
}

// sessionIDOrNew returns the provided session id, or mints a fresh one
// when the client did not send one.
func sessionIDOrNew(provided string) string {
	if provided != "" {
		return provided
	}
	return uuid.NewString()
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.deps.Metrics.IncChatRequest("http", "rejected")
		abortWithError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if s.deps.Controller == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	if err := s.acquireWorker(c.Request.Context()); err != nil {
		s.deps.Metrics.IncChatRequest("http", "error")
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	defer s.releaseWorker()

	sessionID := sessionIDOrNew(req.SessionID)
	start := time.Now()
	reply := s.deps.Controller.HandleTurn(c.Request.Context(), sessionID, req.Query)
	s.deps.Metrics.ObserveTurnDuration("http", time.Since(start))
	s.deps.Metrics.IncChatRequest("http", "ok")
	if reply.ShowEscalationButtons {
		s.deps.Metrics.IncEscalation(string(reply.EscalationReason))
	}

	c.JSON(http.StatusOK, chatResponse{
		Message:               reply.Message,
		ShowEscalationButtons: reply.ShowEscalationButtons,
		EscalationReason:      string(reply.EscalationReason),
		SessionID:             reply.SessionID,
	})
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	if s.deps.Controller == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	id := c.Param("id")
	sess, err := s.deps.Store.GetOrCreate(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("session status lookup failed", "session_id", id, "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to retrieve session status")
		return
	}

	status := "active"
	if sess.Escalated() {
		status = "escalated"
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":    id,
		"is_escalated":  sess.Escalated(),
		"message_count": len(sess.Turns),
		"status":        status,
	})
}

func (s *Server) handleSessionCleanup(c *gin.Context) {
	if s.deps.Controller == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	id := c.Param("id")
	if err := s.deps.Store.Delete(c.Request.Context(), id); err != nil {
		s.logger.Error("session cleanup failed", "session_id", id, "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to cleanup session")
		return
	}
	s.deps.Controller.ReleaseSession(id)
	c.JSON(http.StatusOK, gin.H{
		"message":    "Session cleaned up successfully",
		"session_id": id,
	})
}

func (s *Server) handleActiveSessions(c *gin.Context) {
	if s.deps.Controller == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	ids, err := s.deps.Store.ListActive(c.Request.Context())
	if err != nil {
		s.logger.Error("active session listing failed", "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to retrieve active sessions")
		return
	}
	s.deps.Metrics.SetActiveSessions(len(ids))
	c.JSON(http.StatusOK, gin.H{
		"active_sessions": ids,
		"count":           len(ids),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"agent_initialized": s.deps.Controller != nil,
		"version":           Version,
	})
}

type summaryRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

func (s *Server) handleChatSummary(c *gin.Context) {
	if s.deps.Summarizer == nil {
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	turns, err := s.deps.Store.History(c.Request.Context(), req.SessionID)
	if err != nil || len(turns) == 0 {
		abortWithError(c, http.StatusNotFound, "No chat history found for this session")
		return
	}

	rec, err := s.deps.Summarizer.Summarize(c.Request.Context(), turns)
	if err != nil {
		if errors.Is(err, summary.ErrNoHistory) {
			abortWithError(c, http.StatusNotFound, "No chat history found for this session")
			return
		}
		s.logger.Error("chat summary failed", "session_id", req.SessionID, "error", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to summarize session")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":          rec.Name,
		"policy_number": rec.PolicyNumber,
		"summary":       rec.Summary,
		"date":          rec.Date.Format(time.RFC3339),
	})
}
