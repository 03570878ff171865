package graph

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "stackqa-memory/backend/pkg/errors"
)

// ============================================================================
// Message Operations
// ============================================================================

// recencyKey orders messages by write time, then legacy timestamp, then
// insertion identity for rows that carry neither
const recencyKey = "coalesce(m.created_at, m.timestamp, elementId(m))"

// legacyRole maps rows written by the old chat-history store (type: human|ai)
const legacyRole = `coalesce(m.role, CASE m.type WHEN 'human' THEN 'user' WHEN 'ai' THEN 'assistant' ELSE m.type END)`

// AppendMessage stores a message and moves the session's LAST_MESSAGE pointer
// to it in a single statement. The session is created on first use.
// Holding the session write lock (the SET below) before the pointer is moved
// keeps concurrent appends to one session from both reading the same tail.
func (r *Repository) AppendMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	if err := requireID("session_id", msg.SessionID); err != nil {
		return nil, err
	}
	if !ValidRole(msg.Role) {
		return nil, apperrors.NewValidationFailed("role", "must be user or assistant")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, apperrors.NewValidationFailed("content", "must not be empty")
	}

	now := r.now()
	id := r.newID()

	query := `
		MERGE (s:Session {id: $sessionID})
		ON CREATE SET s.created_at = $createdAt
		SET s.last_message_at = $createdAt
		WITH s
		OPTIONAL MATCH (s)-[last:LAST_MESSAGE]->(:Message)
		DELETE last
		WITH DISTINCT s
		CREATE (m:Message {id: $messageID, role: $role, content: $content, created_at: $createdAt})
		SET m.thought = $thought, m.embedding = $embedding
		CREATE (s)-[:LAST_MESSAGE]->(m)
		MERGE (s)-[:HAS_MESSAGE]->(m)
		RETURN m.id as id
	`

	records, err := r.write(ctx, "append_message", query, map[string]any{
		"sessionID": msg.SessionID,
		"messageID": id,
		"role":      msg.Role,
		"content":   msg.Content,
		"thought":   nullableString(msg.Thought),
		"embedding": toParamVector(msg.Embedding),
		"createdAt": formatTimestamp(now),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewGraphQueryFailed("append message", fmt.Errorf("no row returned for session %s", msg.SessionID))
	}

	r.logger.Debug("Message appended",
		zap.String("session_id", msg.SessionID),
		zap.String("role", msg.Role),
		zap.Bool("has_embedding", len(msg.Embedding) > 0),
	)

	return &Message{
		ID:        getString(records[0], "id"),
		Role:      msg.Role,
		Content:   msg.Content,
		Thought:   msg.Thought,
		CreatedAt: now,
		Embedding: msg.Embedding,
	}, nil
}

// Messages returns every message of a session, oldest first.
// A session that does not exist yields a SessionNotFound error; an existing
// session without messages yields an empty slice.
func (r *Repository) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	if err := requireID("session_id", sessionID); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		MATCH (s:Session {id: $sessionID})
		OPTIONAL MATCH (s)-[:HAS_MESSAGE]->(m:Message)
		WITH m
		ORDER BY %s ASC
		RETURN m IS NOT NULL as present,
		       m.id as id,
		       %s as role,
		       m.content as content,
		       m.thought as thought,
		       m.created_at as created_at,
		       m.embedding as embedding
	`, recencyKey, legacyRole)

	records, err := r.read(ctx, "messages", query, map[string]any{"sessionID": sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewSessionNotFound(sessionID)
	}

	messages := make([]Message, 0, len(records))
	for _, record := range records {
		if !getBool(record, "present") {
			continue
		}
		messages = append(messages, Message{
			ID:        getString(record, "id"),
			Role:      getString(record, "role"),
			Content:   getString(record, "content"),
			Thought:   getString(record, "thought"),
			CreatedAt: getTime(record, "created_at"),
			Embedding: getFloat32Slice(record, "embedding"),
		})
	}
	return messages, nil
}

// CountMessages returns how many messages a session holds
func (r *Repository) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	if err := requireID("session_id", sessionID); err != nil {
		return 0, err
	}

	query := `
		MATCH (s:Session {id: $sessionID})
		OPTIONAL MATCH (s)-[:HAS_MESSAGE]->(m:Message)
		RETURN count(m) as message_count
	`

	records, err := r.read(ctx, "count_messages", query, map[string]any{"sessionID": sessionID})
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	if len(records) == 0 {
		return 0, apperrors.NewSessionNotFound(sessionID)
	}
	return getInt64(records[0], "message_count"), nil
}

// SetMessageEmbedding backfills the embedding of a stored message
func (r *Repository) SetMessageEmbedding(ctx context.Context, messageID string, embedding []float32) error {
	if err := requireID("message_id", messageID); err != nil {
		return err
	}
	if len(embedding) == 0 {
		return apperrors.NewValidationFailed("embedding", "must not be empty")
	}

	query := `
		MATCH (m:Message {id: $messageID})
		SET m.embedding = $embedding
		RETURN m.id as id
	`

	records, err := r.write(ctx, "set_message_embedding", query, map[string]any{
		"messageID": messageID,
		"embedding": toParamVector(embedding),
	})
	if err != nil {
		return fmt.Errorf("failed to store message embedding: %w", err)
	}
	if len(records) == 0 {
		return apperrors.NewGraphQueryFailed("set message embedding", fmt.Errorf("message %s not found", messageID))
	}
	return nil
}
