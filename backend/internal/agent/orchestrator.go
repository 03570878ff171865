package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"stackqa-memory/backend/internal/adapter"
	"stackqa-memory/backend/internal/constants"
	"stackqa-memory/backend/internal/graph"
	"stackqa-memory/backend/internal/history"
	"stackqa-memory/backend/internal/topic"
	apperrors "stackqa-memory/backend/pkg/errors"
	"stackqa-memory/backend/pkg/logger"
)

// TopicService is implemented by *topic.Manager
type TopicService interface {
	SessionTopic(ctx context.Context, sessionID string) (string, error)
	CalculateTopicSimilarity(ctx context.Context, question, sessionTopic string) topic.SimilarityResult
	GetRelevantContextForContinuation(ctx context.Context, sessionID, question string, maxMessages int) ([]topic.ScoredMessage, error)
	UpdateSessionTopicIfChanged(ctx context.Context, sessionID, newQuestion string, result topic.SimilarityResult) (bool, error)
}

// HistoryService is implemented by *history.Adapter
type HistoryService interface {
	Messages(ctx context.Context, sessionID string) ([]graph.Message, error)
	AddUserMessage(ctx context.Context, sessionID, content string) (*graph.Message, error)
	AddAIMessage(ctx context.Context, sessionID, content, thought string) (*graph.Message, error)
}

// SessionStore is the slice of graph.Repository used for topic bookkeeping
type SessionStore interface {
	LinkSessionToUser(ctx context.Context, userID, sessionID string, opts graph.LinkOptions) error
	SetTopicIfEmpty(ctx context.Context, sessionID, topic string) (bool, error)
}

// Observer receives progress while a turn runs. Implementations must be
// safe to call from the goroutine running the turn.
type Observer interface {
	Status(stage, message string, complete bool)
	Token(content string)
}

// Options tune the turn
type Options struct {
	MaxContextMessages int
	HistoryWindow      int
}

// Orchestrator runs one question/answer turn with topic continuity
type Orchestrator struct {
	topics   TopicService
	history  HistoryService
	sessions SessionStore
	llm      adapter.Generator
	opts     Options
	logger   *zap.Logger
}

// NewOrchestrator creates a new agent orchestrator
func NewOrchestrator(topics TopicService, hist HistoryService, sessions SessionStore, llm adapter.Generator, opts Options) *Orchestrator {
	if opts.MaxContextMessages <= 0 {
		opts.MaxContextMessages = constants.DefaultMaxContextMessages
	}
	return &Orchestrator{
		topics:   topics,
		history:  hist,
		sessions: sessions,
		llm:      llm,
		opts:     opts,
		logger:   logger.Get(),
	}
}

// TurnRequest is one user question
type TurnRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Question  string `json:"question"`
}

// TurnResult represents the result of a single agent turn
type TurnResult struct {
	SessionID       string                 `json:"session_id"`
	Answer          string                 `json:"answer"`
	Thought         string                 `json:"thought,omitempty"`
	Topic           string                 `json:"topic"`
	TopicChanged    bool                   `json:"topic_changed"`
	Similarity      topic.SimilarityResult `json:"similarity"`
	RelevantContext []topic.ScoredMessage  `json:"relevant_context"`
	Warnings        []string               `json:"warnings,omitempty"`
	Duration        time.Duration          `json:"-"`
}

func (r *TurnResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

type noopObserver struct{}

func (noopObserver) Status(stage, message string, complete bool) {}
func (noopObserver) Token(content string)                        {}

// RunTurn answers a question. Store and embedding problems are logged and
// reported as warnings; only a failed answer generation fails the turn.
// With a nil observer the answer is generated without streaming.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest, obs Observer) (*TurnResult, error) {
	if req.SessionID == "" {
		return nil, apperrors.NewValidationFailed("session_id", "must not be empty")
	}
	if strings.TrimSpace(req.Question) == "" {
		return nil, apperrors.NewValidationFailed("question", "must not be empty")
	}

	streaming := obs != nil
	if obs == nil {
		obs = noopObserver{}
	}

	start := time.Now()
	result := &TurnResult{SessionID: req.SessionID, RelevantContext: []topic.ScoredMessage{}}

	o.logger.Debug("Starting agent turn",
		zap.String("session_id", req.SessionID),
		zap.String("user_id", req.UserID),
		zap.String("question", logger.Truncate(req.Question, 80)),
	)

	// 1. Topic drift
	obs.Status("topic", "Checking conversation topic...", false)
	// An unreadable topic is not a new session: score neutrally and leave
	// the stored topic alone.
	sessionTopic, topicErr := o.topics.SessionTopic(ctx, req.SessionID)
	if topicErr != nil {
		o.logger.Warn("Session topic unavailable", zap.String("session_id", req.SessionID), zap.Error(topicErr))
		result.warn("session topic unavailable: %s", reason(topicErr))
		result.Similarity = topic.NeutralResult()
	} else {
		result.Similarity = o.topics.CalculateTopicSimilarity(ctx, req.Question, sessionTopic)
	}
	result.Topic = sessionTopic
	obs.Status("topic", fmt.Sprintf("Topic similarity %.2f (%s confidence)", result.Similarity.SimilarityScore, result.Similarity.Confidence), true)

	// 2. Relevant prior messages, only worth ranking on a continuation
	if sessionTopic != "" && result.Similarity.IsContinuation {
		obs.Status("context", "Gathering relevant context...", false)
		scored, err := o.topics.GetRelevantContextForContinuation(ctx, req.SessionID, req.Question, o.opts.MaxContextMessages)
		if err != nil {
			o.logger.Warn("Relevant context unavailable", zap.String("session_id", req.SessionID), zap.Error(err))
			result.warn("relevant context unavailable: %s", reason(err))
		} else {
			result.RelevantContext = scored
		}
		obs.Status("context", fmt.Sprintf("Found %d relevant messages", len(result.RelevantContext)), true)
	}

	// 3. History window
	messages, historyErr := o.history.Messages(ctx, req.SessionID)
	if historyErr != nil {
		o.logger.Warn("History unavailable", zap.String("session_id", req.SessionID), zap.Error(historyErr))
		result.warn("conversation history unavailable: %s", reason(historyErr))
		messages = nil
	}

	// 4. Think
	systemPrompt := BuildSystemPrompt(sessionTopic)
	userPrompt := BuildUserPrompt(PromptInput{
		SessionTopic:    sessionTopic,
		Similarity:      result.Similarity,
		RelevantContext: result.RelevantContext,
		History:         history.Window(messages, o.opts.HistoryWindow),
		Question:        req.Question,
	})

	obs.Status("generate", "Generating answer...", false)
	var (
		resp *adapter.Response
		err  error
	)
	if streaming {
		resp, err = o.llm.GenerateStream(ctx, systemPrompt, fewShot, userPrompt, obs.Token)
	} else {
		resp, err = o.llm.Generate(ctx, systemPrompt, fewShot, userPrompt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate LLM response: %w", err)
	}
	result.Answer = resp.Content
	result.Thought = resp.Thought
	obs.Status("generate", "Answer generated", true)

	// 5. Persist the exchange
	if _, err := o.history.AddUserMessage(ctx, req.SessionID, req.Question); err != nil {
		o.logger.Error("Failed to store user message", zap.String("session_id", req.SessionID), zap.Error(err))
		result.warn("question was not saved: %s", reason(err))
	}
	if result.Answer != "" {
		if _, err := o.history.AddAIMessage(ctx, req.SessionID, result.Answer, result.Thought); err != nil {
			o.logger.Error("Failed to store assistant message", zap.String("session_id", req.SessionID), zap.Error(err))
			result.warn("answer was not saved: %s", reason(err))
		}
	}

	// 6. Topic bookkeeping
	o.recordTopic(ctx, req, sessionTopic, topicErr == nil, result)

	result.Duration = time.Since(start)
	o.logger.Info("Agent turn completed",
		zap.String("session_id", req.SessionID),
		zap.Float64("similarity", result.Similarity.SimilarityScore),
		zap.Bool("topic_changed", result.TopicChanged),
		zap.Int("relevant_messages", len(result.RelevantContext)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// recordTopic links the session to its user and sets or replaces the topic.
// The first question becomes the topic of a session that has none. Nothing
// is written to the topic when it could not be read.
func (o *Orchestrator) recordTopic(ctx context.Context, req TurnRequest, sessionTopic string, topicKnown bool, result *TurnResult) {
	if req.UserID != "" {
		if err := o.sessions.LinkSessionToUser(ctx, req.UserID, req.SessionID, graph.LinkOptions{}); err != nil {
			o.logger.Warn("Failed to link session to user", zap.String("session_id", req.SessionID), zap.Error(err))
			result.warn("session was not linked to user: %s", reason(err))
		}
	}
	if !topicKnown {
		return
	}

	if sessionTopic == "" {
		written, err := o.sessions.SetTopicIfEmpty(ctx, req.SessionID, req.Question)
		if err != nil {
			o.logger.Warn("Failed to set initial session topic", zap.String("session_id", req.SessionID), zap.Error(err))
			result.warn("session topic was not saved: %s", reason(err))
			return
		}
		if written {
			result.Topic = req.Question
		}
		return
	}

	changed, err := o.topics.UpdateSessionTopicIfChanged(ctx, req.SessionID, req.Question, result.Similarity)
	if err != nil {
		o.logger.Warn("Failed to update session topic", zap.String("session_id", req.SessionID), zap.Error(err))
		result.warn("topic change was not saved: %s", reason(err))
		return
	}
	if changed {
		result.TopicChanged = true
		result.Topic = req.Question
	}
}

// reason is the short, client-safe cause attached to a warning
func reason(err error) string {
	if t := apperrors.TypeOf(err); t != "" {
		return string(t)
	}
	return "unexpected error"
}
