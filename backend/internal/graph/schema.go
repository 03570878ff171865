package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stackqa-memory/backend/pkg/logger"
)

// schemaStatements are idempotent; the uniqueness constraints are what keep
// concurrent MERGEs on a new session or user from creating duplicates.
var schemaStatements = []struct {
	name  string
	query string
}{
	{"session_id_unique", "CREATE CONSTRAINT session_id_unique IF NOT EXISTS FOR (s:Session) REQUIRE s.id IS UNIQUE"},
	{"app_user_id_unique", "CREATE CONSTRAINT app_user_id_unique IF NOT EXISTS FOR (u:AppUser) REQUIRE u.id IS UNIQUE"},
	{"message_id", "CREATE INDEX message_id IF NOT EXISTS FOR (m:Message) ON (m.id)"},
	{"message_created_at", "CREATE INDEX message_created_at IF NOT EXISTS FOR (m:Message) ON (m.created_at)"},
}

// EnsureSchema creates the constraints and indexes the repository relies on
func EnsureSchema(ctx context.Context, q Querier) error {
	log := logger.Get()
	for _, stmt := range schemaStatements {
		if _, err := q.Query(ctx, stmt.query, nil); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
		log.Debug("Schema statement applied", zap.String("name", stmt.name))
	}
	log.Info("Graph schema ensured", zap.Int("statements", len(schemaStatements)))
	return nil
}
