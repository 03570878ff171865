// Package history presents a session's stored messages as an ordered chat
// history and provides the two append entry points used by the agent loop.
package history

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stackqa-memory/backend/internal/adapter"
	"stackqa-memory/backend/internal/constants"
	"stackqa-memory/backend/internal/graph"
	apperrors "stackqa-memory/backend/pkg/errors"
	"stackqa-memory/backend/pkg/logger"
)

// MessageStore is the slice of graph.Repository the adapter needs
type MessageStore interface {
	AppendMessage(ctx context.Context, msg graph.NewMessage) (*graph.Message, error)
	Messages(ctx context.Context, sessionID string) ([]graph.Message, error)
}

// Adapter reads and appends chat history for sessions
type Adapter struct {
	store    MessageStore
	embedder adapter.Embedder
	logger   *zap.Logger
}

// NewAdapter creates a history adapter. embedder may be nil, in which case
// messages are stored without embeddings.
func NewAdapter(store MessageStore, embedder adapter.Embedder) *Adapter {
	return &Adapter{
		store:    store,
		embedder: embedder,
		logger:   logger.Get(),
	}
}

// Messages returns the session history, oldest first. A session that does
// not exist yet has an empty history.
func (a *Adapter) Messages(ctx context.Context, sessionID string) ([]graph.Message, error) {
	messages, err := a.store.Messages(ctx, sessionID)
	if apperrors.IsNotFound(err) {
		return []graph.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history for session %s: %w", sessionID, err)
	}
	return messages, nil
}

// AddUserMessage appends a user turn
func (a *Adapter) AddUserMessage(ctx context.Context, sessionID, content string) (*graph.Message, error) {
	return a.add(ctx, sessionID, constants.RoleUser, content, "")
}

// AddAIMessage appends an assistant turn with its optional reasoning trace
func (a *Adapter) AddAIMessage(ctx context.Context, sessionID, content, thought string) (*graph.Message, error) {
	return a.add(ctx, sessionID, constants.RoleAssistant, content, thought)
}

func (a *Adapter) add(ctx context.Context, sessionID, role, content, thought string) (*graph.Message, error) {
	msg := graph.NewMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Thought:   thought,
		Embedding: a.embed(ctx, sessionID, content),
	}

	stored, err := a.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to add %s message: %w", role, err)
	}
	return stored, nil
}

// embed is best-effort; a failure only means relevance ranking will embed
// this message on demand later
func (a *Adapter) embed(ctx context.Context, sessionID, content string) []float32 {
	if a.embedder == nil {
		return nil
	}
	vector, err := a.embedder.EmbedOne(ctx, content)
	if err != nil {
		a.logger.Warn("Storing message without embedding",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return nil
	}
	return vector
}

// Window returns the last n messages; n <= 0 returns all of them
func Window(messages []graph.Message, n int) []graph.Message {
	if n <= 0 || len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
