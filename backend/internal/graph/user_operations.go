package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stackqa-memory/backend/internal/constants"
	apperrors "stackqa-memory/backend/pkg/errors"
)

// ============================================================================
// User Operations
// ============================================================================

// ListUsers returns up to 1000 user ids
func (r *Repository) ListUsers(ctx context.Context) ([]string, error) {
	query := `
		MATCH (u:AppUser)
		RETURN u.id as user_id
		ORDER BY user_id
		LIMIT $limit
	`

	records, err := r.read(ctx, "list_users", query, map[string]any{"limit": constants.MaxListedUsers})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]string, 0, len(records))
	for _, record := range records {
		if id := getString(record, "user_id"); id != "" {
			users = append(users, id)
		}
	}
	return users, nil
}

// DeleteUser removes a user together with its sessions and their messages
func (r *Repository) DeleteUser(ctx context.Context, userID string) (*DeleteResult, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}

	query := `
		MATCH (u:AppUser {id: $userID})
		OPTIONAL MATCH (u)-[:HAS_SESSION]->(s:Session)
		OPTIONAL MATCH (s)-[:HAS_MESSAGE|LAST_MESSAGE]->(m:Message)
		WITH u, collect(DISTINCT s) as sessions, collect(DISTINCT m) as messages
		WITH u, sessions, messages, size(sessions) as session_count, size(messages) as message_count
		FOREACH (msg IN messages | DETACH DELETE msg)
		FOREACH (sess IN sessions | DETACH DELETE sess)
		DETACH DELETE u
		RETURN session_count, message_count
	`

	records, err := r.write(ctx, "delete_user", query, map[string]any{"userID": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewUserNotFound(userID)
	}

	result := &DeleteResult{
		Sessions: getInt64(records[0], "session_count"),
		Messages: getInt64(records[0], "message_count"),
	}
	r.logger.Info("User deleted",
		zap.String("user_id", userID),
		zap.Int64("sessions_deleted", result.Sessions),
		zap.Int64("messages_deleted", result.Messages),
	)
	return result, nil
}
