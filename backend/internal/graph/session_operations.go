package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stackqa-memory/backend/internal/constants"
	apperrors "stackqa-memory/backend/pkg/errors"
)

// ============================================================================
// Session Operations
// ============================================================================

// ListSessions returns at most 100 sessions, most recently active first.
// Sessions without messages sort last. An empty userID lists every session.
func (r *Repository) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	match := "MATCH (s:Session)"
	params := map[string]any{"limit": constants.MaxListedSessions}
	if userID != "" {
		match = "MATCH (:AppUser {id: $userID})-[:HAS_SESSION]->(s:Session)"
		params["userID"] = userID
	}

	query := fmt.Sprintf(`
		%s
		OPTIONAL MATCH (s)-[:HAS_MESSAGE]->(m:Message)
		WITH s, m
		ORDER BY %s DESC
		WITH s, head(collect(m)) as last_msg
		WITH s, last_msg, coalesce(last_msg.created_at, last_msg.timestamp, elementId(last_msg)) as recency
		RETURN s.id as session_id, s.topic as topic, last_msg.content as last_message
		ORDER BY recency IS NULL, recency DESC
		LIMIT $limit
	`, match, recencyKey)

	records, err := r.read(ctx, "list_sessions", query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]SessionSummary, 0, len(records))
	for _, record := range records {
		sessions = append(sessions, SessionSummary{
			SessionID:   getString(record, "session_id"),
			Topic:       getString(record, "topic"),
			LastMessage: getString(record, "last_message"),
		})
	}
	return sessions, nil
}

// GetSession returns the stored session state
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if err := requireID("session_id", sessionID); err != nil {
		return nil, err
	}

	query := `
		MATCH (s:Session {id: $sessionID})
		OPTIONAL MATCH (u:AppUser)-[:HAS_SESSION]->(s)
		OPTIONAL MATCH (s)-[:HAS_MESSAGE]->(m:Message)
		RETURN s.id as id,
		       s.topic as topic,
		       s.previous_topic as previous_topic,
		       s.topic_changed_at as topic_changed_at,
		       head(collect(DISTINCT u.id)) as user_id,
		       count(DISTINCT m) as message_count
	`

	records, err := r.read(ctx, "get_session", query, map[string]any{"sessionID": sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewSessionNotFound(sessionID)
	}

	record := records[0]
	return &Session{
		ID:             getString(record, "id"),
		Topic:          getString(record, "topic"),
		PreviousTopic:  getString(record, "previous_topic"),
		TopicChangedAt: getTime(record, "topic_changed_at"),
		UserID:         getString(record, "user_id"),
		MessageCount:   getInt64(record, "message_count"),
	}, nil
}

// SessionTopic returns the stored topic, "" when the session has none
func (r *Repository) SessionTopic(ctx context.Context, sessionID string) (string, error) {
	if err := requireID("session_id", sessionID); err != nil {
		return "", err
	}

	query := `
		MATCH (s:Session {id: $sessionID})
		RETURN s.topic as topic
	`

	records, err := r.read(ctx, "session_topic", query, map[string]any{"sessionID": sessionID})
	if err != nil {
		return "", fmt.Errorf("failed to get session topic: %w", err)
	}
	if len(records) == 0 {
		return "", apperrors.NewSessionNotFound(sessionID)
	}
	return getString(records[0], "topic"), nil
}

// SetSessionTopic overwrites the topic without touching previous_topic
func (r *Repository) SetSessionTopic(ctx context.Context, sessionID, topic string) error {
	if err := requireID("session_id", sessionID); err != nil {
		return err
	}

	query := `
		MATCH (s:Session {id: $sessionID})
		SET s.topic = $topic
		RETURN s.id as id
	`

	records, err := r.write(ctx, "set_session_topic", query, map[string]any{
		"sessionID": sessionID,
		"topic":     topic,
	})
	if err != nil {
		return fmt.Errorf("failed to set session topic: %w", err)
	}
	if len(records) == 0 {
		return apperrors.NewSessionNotFound(sessionID)
	}
	return nil
}

// SetTopicIfEmpty writes the topic only when the session has none yet and
// reports whether it did. A missing session, or one that already has a
// topic, is left untouched.
func (r *Repository) SetTopicIfEmpty(ctx context.Context, sessionID, topic string) (bool, error) {
	if err := requireID("session_id", sessionID); err != nil {
		return false, err
	}

	query := `
		MATCH (s:Session {id: $sessionID})
		WHERE coalesce(s.topic, '') = ''
		SET s.topic = $topic
		RETURN s.id as id
	`

	records, err := r.write(ctx, "set_topic_if_empty", query, map[string]any{
		"sessionID": sessionID,
		"topic":     topic,
	})
	if err != nil {
		return false, fmt.Errorf("failed to set initial session topic: %w", err)
	}
	return len(records) > 0, nil
}

// ReplaceTopic records a topic change: the old topic moves to previous_topic
// and topic_changed_at is stamped. The old value is captured before any SET
// runs so previous_topic never ends up equal to the new topic.
func (r *Repository) ReplaceTopic(ctx context.Context, sessionID, topic string) (*TopicChange, error) {
	if err := requireID("session_id", sessionID); err != nil {
		return nil, err
	}

	now := r.now()
	query := `
		MATCH (s:Session {id: $sessionID})
		WITH s, coalesce(s.topic, '') as prior
		SET s.previous_topic = prior,
		    s.topic = $topic,
		    s.topic_changed_at = $changedAt
		RETURN prior as previous_topic
	`

	records, err := r.write(ctx, "replace_topic", query, map[string]any{
		"sessionID": sessionID,
		"topic":     topic,
		"changedAt": formatTimestamp(now),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace session topic: %w", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewSessionNotFound(sessionID)
	}

	change := &TopicChange{
		SessionID:     sessionID,
		PreviousTopic: getString(records[0], "previous_topic"),
		Topic:         topic,
		ChangedAt:     now,
	}
	r.logger.Info("Session topic replaced",
		zap.String("session_id", sessionID),
		zap.String("previous_topic", change.PreviousTopic),
		zap.String("topic", topic),
	)
	return change, nil
}

// LinkSessionToUser attaches a session to a user, creating either as needed.
// An empty userID is a no-op. The session is merged on id alone; the topic is
// written only to new sessions, sessions without a topic, or when
// opts.OverwriteTopic is set.
func (r *Repository) LinkSessionToUser(ctx context.Context, userID, sessionID string, opts LinkOptions) error {
	if userID == "" {
		return nil
	}
	if err := requireID("session_id", sessionID); err != nil {
		return err
	}

	query := `
		MERGE (u:AppUser {id: $userID})
		ON CREATE SET u.created_at = $now
		MERGE (s:Session {id: $sessionID})
		ON CREATE SET s.created_at = $now, s.topic = $topic
		ON MATCH SET s.topic = CASE
			WHEN $topic IS NOT NULL AND ($overwrite OR coalesce(s.topic, '') = '') THEN $topic
			ELSE s.topic
		END
		MERGE (u)-[:HAS_SESSION]->(s)
		RETURN s.topic as topic
	`

	_, err := r.write(ctx, "link_session_to_user", query, map[string]any{
		"userID":    userID,
		"sessionID": sessionID,
		"topic":     nullableString(opts.Topic),
		"overwrite": opts.OverwriteTopic,
		"now":       formatTimestamp(r.now()),
	})
	if err != nil {
		return fmt.Errorf("failed to link session to user: %w", err)
	}

	r.logger.Debug("Session linked to user",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
	)
	return nil
}

// DeleteSession removes a session and every message it owns
func (r *Repository) DeleteSession(ctx context.Context, sessionID string) (*DeleteResult, error) {
	if err := requireID("session_id", sessionID); err != nil {
		return nil, err
	}

	query := `
		MATCH (s:Session {id: $sessionID})
		OPTIONAL MATCH (s)-[:HAS_MESSAGE|LAST_MESSAGE]->(m:Message)
		WITH s, collect(DISTINCT m) as messages
		WITH s, messages, size(messages) as message_count
		FOREACH (msg IN messages | DETACH DELETE msg)
		DETACH DELETE s
		RETURN message_count
	`

	records, err := r.write(ctx, "delete_session", query, map[string]any{"sessionID": sessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to delete session: %w", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewSessionNotFound(sessionID)
	}

	result := &DeleteResult{
		Sessions: 1,
		Messages: getInt64(records[0], "message_count"),
	}
	r.logger.Info("Session deleted",
		zap.String("session_id", sessionID),
		zap.Int64("messages_deleted", result.Messages),
	)
	return result, nil
}
