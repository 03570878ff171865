package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stackqa-memory/backend/internal/graph"
)

// ListSessions returns the sidebar list. Store failures degrade to an empty
// list so the UI still renders.
func (h *Handlers) ListSessions(c *gin.Context) {
	userID := c.Query("user_id")
	sessions, err := h.conversations.ListSessions(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("Failed to list sessions",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		sessions = []graph.SessionSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetSession returns the session's topic state and ordered messages
func (h *Handlers) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	session, err := h.conversations.GetSession(ctx, sessionID)
	if err != nil {
		h.respondError(c, "get_session", err)
		return
	}
	messages, err := h.conversations.Messages(ctx, sessionID)
	if err != nil {
		h.respondError(c, "get_session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "messages": messages})
}

func (h *Handlers) DeleteSession(c *gin.Context) {
	result, err := h.conversations.DeleteSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "delete_session", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type linkRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	Topic          string `json:"topic"`
	OverwriteTopic bool   `json:"overwrite_topic"`
}

func (h *Handlers) LinkSessionToUser(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := graph.LinkOptions{Topic: req.Topic, OverwriteTopic: req.OverwriteTopic}
	if err := h.conversations.LinkSessionToUser(c.Request.Context(), req.UserID, c.Param("id"), opts); err != nil {
		h.respondError(c, "link_session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "linked"})
}

type topicRequest struct {
	Topic string `json:"topic" binding:"required"`
}

func (h *Handlers) SetSessionTopic(c *gin.Context) {
	var req topicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.conversations.SetSessionTopic(c.Request.Context(), c.Param("id"), req.Topic); err != nil {
		h.respondError(c, "set_topic", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type contextRequest struct {
	Question    string `json:"question" binding:"required"`
	MaxMessages int    `json:"max_messages"`
}

// RelevantContext ranks the session's prior messages against a question
func (h *Handlers) RelevantContext(c *gin.Context) {
	var req contextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scored, err := h.topics.GetRelevantContextForContinuation(c.Request.Context(), c.Param("id"), req.Question, req.MaxMessages)
	if err != nil {
		h.respondError(c, "relevant_context", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": scored})
}

type similarityRequest struct {
	Question string `json:"question" binding:"required"`
	Topic    string `json:"topic"`
}

func (h *Handlers) TopicSimilarity(c *gin.Context) {
	var req similarityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.topics.CalculateTopicSimilarity(c.Request.Context(), req.Question, req.Topic))
}

func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.conversations.ListUsers(c.Request.Context())
	if err != nil {
		h.respondError(c, "list_users", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *Handlers) DeleteUser(c *gin.Context) {
	result, err := h.conversations.DeleteUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "delete_user", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
