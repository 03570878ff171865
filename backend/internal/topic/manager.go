// Package topic decides whether a question continues the session's topic,
// picks the prior messages most relevant to it, and commits topic changes.
package topic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stackqa-memory/backend/internal/adapter"
	"stackqa-memory/backend/internal/constants"
	"stackqa-memory/backend/internal/graph"
	"stackqa-memory/backend/internal/metrics"
	apperrors "stackqa-memory/backend/pkg/errors"
	"stackqa-memory/backend/pkg/logger"
)

// SessionRepository is the slice of graph.Repository the manager needs
type SessionRepository interface {
	SessionTopic(ctx context.Context, sessionID string) (string, error)
	ReplaceTopic(ctx context.Context, sessionID, topic string) (*graph.TopicChange, error)
	SetMessageEmbedding(ctx context.Context, messageID string, embedding []float32) error
}

// MessageSource supplies a session's ordered history
type MessageSource interface {
	Messages(ctx context.Context, sessionID string) ([]graph.Message, error)
}

// Manager is the topic continuity policy layer
type Manager struct {
	repo     SessionRepository
	history  MessageSource
	embedder adapter.Embedder
	metrics  metrics.Collector
	logger   *zap.Logger
}

// NewManager creates a topic manager
func NewManager(repo SessionRepository, history MessageSource, embedder adapter.Embedder, collector metrics.Collector) *Manager {
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &Manager{
		repo:     repo,
		history:  history,
		embedder: embedder,
		metrics:  collector,
		logger:   logger.Get(),
	}
}

// SessionTopic returns the stored topic. An absent session reads as "" with
// no error; any other failure is returned so callers can tell a new session
// from an unreachable store.
func (m *Manager) SessionTopic(ctx context.Context, sessionID string) (string, error) {
	topic, err := m.repo.SessionTopic(ctx, sessionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read session topic: %w", err)
	}
	return topic, nil
}

// GetSessionTopic is SessionTopic for display paths. It never fails: an
// unreachable store is logged and reads as "no topic".
func (m *Manager) GetSessionTopic(ctx context.Context, sessionID string) string {
	topic, err := m.SessionTopic(ctx, sessionID)
	if err != nil {
		m.logger.Warn("Failed to read session topic",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return ""
	}
	return topic
}

// CalculateTopicSimilarity compares the question with the session topic.
// It always returns a usable result; embedding problems yield the neutral
// fallback.
func (m *Manager) CalculateTopicSimilarity(ctx context.Context, question, sessionTopic string) SimilarityResult {
	if sessionTopic == "" {
		result := FirstMessageResult()
		m.metrics.RecordTopicDecision(ctx, string(result.Confidence), result.IsContinuation)
		return result
	}

	result, err := m.similarity(ctx, question, sessionTopic)
	if err != nil {
		m.logger.Warn("Topic similarity unavailable, using neutral result", zap.Error(err))
		m.metrics.RecordError(ctx, "topic_similarity", string(apperrors.ErrorTypeEmbedding))
		result = NeutralResult()
	}

	m.metrics.RecordTopicDecision(ctx, string(result.Confidence), result.IsContinuation)
	m.logger.Debug("Topic similarity computed",
		zap.Float64("score", result.SimilarityScore),
		zap.String("confidence", string(result.Confidence)),
		zap.Bool("continuation", result.IsContinuation),
	)
	return result
}

func (m *Manager) similarity(ctx context.Context, question, sessionTopic string) (SimilarityResult, error) {
	vectors, err := m.embedder.Embed(ctx, []string{question, sessionTopic})
	if err != nil {
		return SimilarityResult{}, err
	}
	if len(vectors) != 2 {
		return SimilarityResult{}, apperrors.NewEmbeddingFailed("", fmt.Sprintf("expected 2 vectors, got %d", len(vectors)), nil)
	}
	if err := adapter.ValidateVectors(vectors); err != nil {
		return SimilarityResult{}, apperrors.NewEmbeddingFailed("", err.Error(), nil)
	}

	score, err := CosineSimilarity(vectors[0], vectors[1])
	if err != nil {
		return SimilarityResult{}, apperrors.NewEmbeddingFailed("", err.Error(), nil)
	}
	return Classify(score), nil
}

// GetRelevantContextForContinuation ranks the session's prior messages by
// similarity to the question and returns the top maxMessages, most similar
// first. Sessions with two or fewer messages have nothing to rank.
// Stored message embeddings are reused; the rest are embedded on demand and
// written back best-effort.
func (m *Manager) GetRelevantContextForContinuation(ctx context.Context, sessionID, question string, maxMessages int) ([]ScoredMessage, error) {
	if maxMessages <= 0 {
		maxMessages = constants.DefaultMaxContextMessages
	}

	messages, err := m.history.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(messages) <= constants.MinRankableMessages {
		return []ScoredMessage{}, nil
	}

	questionVec, err := m.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, err
	}
	if err := adapter.ValidateVector(questionVec); err != nil {
		return nil, apperrors.NewEmbeddingFailed("", err.Error(), nil)
	}

	candidates := make([]graph.Message, 0, len(messages)-1)
	for _, msg := range messages[1:] {
		if strings.TrimSpace(msg.Content) != "" {
			candidates = append(candidates, msg)
		}
	}

	vectors, err := m.candidateVectors(ctx, candidates, len(questionVec))
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredMessage, 0, len(candidates))
	for i, msg := range candidates {
		score, err := CosineSimilarity(questionVec, vectors[i])
		if err != nil {
			return nil, apperrors.NewEmbeddingFailed("", err.Error(), nil)
		}
		scored = append(scored, ScoredMessage{Similarity: score, Role: msg.Role, Content: msg.Content})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > maxMessages {
		scored = scored[:maxMessages]
	}
	return scored, nil
}

// candidateVectors returns one vector per candidate, embedding those without
// a usable stored vector with bounded concurrency
func (m *Manager) candidateVectors(ctx context.Context, candidates []graph.Message, dim int) ([][]float32, error) {
	vectors := make([][]float32, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.EmbeddingConcurrency)

	for i, msg := range candidates {
		if len(msg.Embedding) == dim && adapter.ValidateVector(msg.Embedding) == nil {
			vectors[i] = msg.Embedding
			continue
		}

		i, msg := i, msg
		g.Go(func() error {
			vector, err := m.embedder.EmbedOne(gctx, msg.Content)
			if err != nil {
				return err
			}
			vectors[i] = vector

			if msg.ID != "" {
				if err := m.repo.SetMessageEmbedding(gctx, msg.ID, vector); err != nil {
					m.logger.Debug("Embedding backfill skipped",
						zap.String("message_id", msg.ID),
						zap.Error(err),
					)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// UpdateSessionTopicIfChanged commits newQuestion as the topic only when the
// score is below 0.4. Scores in [0.4, 0.55] are flagged as drift by
// CalculateTopicSimilarity but deliberately left uncommitted.
func (m *Manager) UpdateSessionTopicIfChanged(ctx context.Context, sessionID, newQuestion string, result SimilarityResult) (bool, error) {
	if result.SimilarityScore >= constants.TopicCommitThreshold {
		return false, nil
	}

	change, err := m.repo.ReplaceTopic(ctx, sessionID, newQuestion)
	if err != nil {
		return false, fmt.Errorf("failed to update session topic: %w", err)
	}

	m.metrics.RecordTopicChange(ctx)
	m.logger.Info("Session topic changed",
		zap.String("session_id", sessionID),
		zap.String("previous_topic", change.PreviousTopic),
		zap.String("topic", change.Topic),
		zap.Float64("score", result.SimilarityScore),
	)
	return true, nil
}
