package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stackqa-memory/backend/internal/agent"
)

type askRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
	UserID    string `json:"user_id"`
}

func (r askRequest) turn() agent.TurnRequest {
	return agent.TurnRequest{SessionID: r.SessionID, UserID: r.UserID, Question: r.Question}
}

// sseObserver forwards turn progress to the client as server-sent events.
// Every event is a single JSON data payload tagged with "type".
type sseObserver struct {
	c *gin.Context
}

func (o *sseObserver) send(payload gin.H) {
	o.c.SSEvent("message", payload)
	o.c.Writer.Flush()
}

func (o *sseObserver) Status(stage, message string, complete bool) {
	status := "running"
	if complete {
		status = "complete"
	}
	o.send(gin.H{"type": "status", "stage": stage, "message": message, "status": status})
}

func (o *sseObserver) Token(content string) {
	if content == "" {
		return
	}
	o.send(gin.H{"type": "token", "content": content})
}

// Ask runs a turn and streams status, tokens and a final summary event
func (h *Handlers) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	obs := &sseObserver{c: c}
	result, err := h.turns.RunTurn(c.Request.Context(), req.turn(), obs)
	if err != nil {
		if !c.Writer.Written() {
			h.respondError(c, "ask", err)
			return
		}
		h.logger.Error("Agent turn failed mid-stream",
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
		obs.send(gin.H{"type": "error", "content": "The assistant could not answer this question. Please try again."})
		return
	}

	obs.send(gin.H{
		"type":          "done",
		"session_id":    result.SessionID,
		"topic":         result.Topic,
		"topic_changed": result.TopicChanged,
		"similarity":    result.Similarity,
		"warnings":      result.Warnings,
	})
}

// Chat runs a turn and returns the whole result as JSON
func (h *Handlers) Chat(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.turns.RunTurn(c.Request.Context(), req.turn(), nil)
	if err != nil {
		h.respondError(c, "chat", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
