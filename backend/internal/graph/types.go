package graph

import (
	"time"

	"stackqa-memory/backend/internal/constants"
)

// ============================================================================
// Conversation Graph Types
// ============================================================================

// Message is one stored conversational turn
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	Thought   string    `json:"thought,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Embedding []float32 `json:"-"`
}

// NewMessage is the input to AppendMessage
type NewMessage struct {
	SessionID string
	Role      string
	Content   string
	Thought   string
	Embedding []float32 // optional, stored for later relevance ranking
}

// Session is the stored state of one conversation thread
type Session struct {
	ID             string    `json:"session_id"`
	Topic          string    `json:"topic,omitempty"`
	PreviousTopic  string    `json:"previous_topic,omitempty"`
	TopicChangedAt time.Time `json:"topic_changed_at,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	MessageCount   int64     `json:"message_count"`
}

// SessionSummary is one row of ListSessions
type SessionSummary struct {
	SessionID   string `json:"session_id"`
	Topic       string `json:"topic,omitempty"`
	LastMessage string `json:"last_message"`
}

// LinkOptions controls how LinkSessionToUser treats the topic
type LinkOptions struct {
	Topic string
	// OverwriteTopic replaces a non-empty stored topic; otherwise the topic
	// is only written to new sessions or sessions without one.
	OverwriteTopic bool
}

// DeleteResult reports what a cascade delete removed
type DeleteResult struct {
	Sessions int64 `json:"sessions_deleted"`
	Messages int64 `json:"messages_deleted"`
}

// TopicChange is returned by ReplaceTopic
type TopicChange struct {
	SessionID     string    `json:"session_id"`
	PreviousTopic string    `json:"previous_topic"`
	Topic         string    `json:"topic"`
	ChangedAt     time.Time `json:"changed_at"`
}

// ValidRole reports whether role is one of the two message roles
func ValidRole(role string) bool {
	return role == constants.RoleUser || role == constants.RoleAssistant
}
