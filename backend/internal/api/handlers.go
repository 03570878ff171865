// Package api exposes the conversation memory over HTTP for the chat UI.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stackqa-memory/backend/internal/agent"
	"stackqa-memory/backend/internal/graph"
	"stackqa-memory/backend/internal/topic"
	"stackqa-memory/backend/pkg/logger"
)

// TurnRunner is implemented by *agent.Orchestrator
type TurnRunner interface {
	RunTurn(ctx context.Context, req agent.TurnRequest, obs agent.Observer) (*agent.TurnResult, error)
}

// Conversations is the slice of graph.Repository served over HTTP
type Conversations interface {
	ListSessions(ctx context.Context, userID string) ([]graph.SessionSummary, error)
	GetSession(ctx context.Context, sessionID string) (*graph.Session, error)
	Messages(ctx context.Context, sessionID string) ([]graph.Message, error)
	DeleteSession(ctx context.Context, sessionID string) (*graph.DeleteResult, error)
	LinkSessionToUser(ctx context.Context, userID, sessionID string, opts graph.LinkOptions) error
	SetSessionTopic(ctx context.Context, sessionID, topic string) error
	ListUsers(ctx context.Context) ([]string, error)
	DeleteUser(ctx context.Context, userID string) (*graph.DeleteResult, error)
}

// Topics is implemented by *topic.Manager
type Topics interface {
	CalculateTopicSimilarity(ctx context.Context, question, sessionTopic string) topic.SimilarityResult
	GetRelevantContextForContinuation(ctx context.Context, sessionID, question string, maxMessages int) ([]topic.ScoredMessage, error)
}

// HealthChecker is implemented by *graph.Store
type HealthChecker interface {
	VerifyConnectivity(ctx context.Context) error
}

// Handlers holds the dependencies of the HTTP surface
type Handlers struct {
	turns         TurnRunner
	conversations Conversations
	topics        Topics
	health        HealthChecker
	logger        *zap.Logger
}

// NewHandlers creates the HTTP handlers
func NewHandlers(turns TurnRunner, conversations Conversations, topics Topics, health HealthChecker) *Handlers {
	return &Handlers{
		turns:         turns,
		conversations: conversations,
		topics:        topics,
		health:        health,
		logger:        logger.Get(),
	}
}

// RegisterRoutes mounts every endpoint on router
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.POST("/agent/ask", h.Ask)
		api.POST("/agent/chat", h.Chat)

		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.DELETE("/sessions/:id", h.DeleteSession)
		api.POST("/sessions/:id/user", h.LinkSessionToUser)
		api.PUT("/sessions/:id/topic", h.SetSessionTopic)
		api.POST("/sessions/:id/context", h.RelevantContext)

		api.POST("/topic/similarity", h.TopicSimilarity)

		api.GET("/users", h.ListUsers)
		api.DELETE("/users/:id", h.DeleteUser)
	}
}

// Health reports whether the graph store is reachable
func (h *Handlers) Health(c *gin.Context) {
	if err := h.health.VerifyConnectivity(c.Request.Context()); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
