package topic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackqa-memory/backend/internal/constants"
	"stackqa-memory/backend/internal/graph"
	apperrors "stackqa-memory/backend/pkg/errors"
)

// mapEmbedder returns fixed vectors per text
type mapEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (e *mapEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := e.vectors[text]
		if !ok {
			return nil, apperrors.NewEmbeddingFailed("test", fmt.Sprintf("no vector for %q", text), errors.New("unknown text"))
		}
		out[i] = v
	}
	return out, nil
}

func (e *mapEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	v, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

// memoryRepo keeps topics and messages in maps
type memoryRepo struct {
	mu         sync.Mutex
	topics     map[string]string
	previous   map[string]string
	messages   map[string][]graph.Message
	backfilled map[string][]float32
	topicErr   error
	replaceErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		topics:     map[string]string{},
		previous:   map[string]string{},
		messages:   map[string][]graph.Message{},
		backfilled: map[string][]float32{},
	}
}

func (r *memoryRepo) SessionTopic(ctx context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topicErr != nil {
		return "", r.topicErr
	}
	topic, ok := r.topics[sessionID]
	if !ok {
		return "", apperrors.NewSessionNotFound(sessionID)
	}
	return topic, nil
}

func (r *memoryRepo) ReplaceTopic(ctx context.Context, sessionID, topic string) (*graph.TopicChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replaceErr != nil {
		return nil, r.replaceErr
	}
	prior := r.topics[sessionID]
	r.previous[sessionID] = prior
	r.topics[sessionID] = topic
	return &graph.TopicChange{SessionID: sessionID, PreviousTopic: prior, Topic: topic}, nil
}

func (r *memoryRepo) SetMessageEmbedding(ctx context.Context, messageID string, embedding []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backfilled[messageID] = embedding
	return nil
}

func (r *memoryRepo) Messages(ctx context.Context, sessionID string) ([]graph.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[sessionID], nil
}

func newTestManager(repo *memoryRepo, embedder *mapEmbedder) *Manager {
	return NewManager(repo, repo, embedder, nil)
}

func TestCalculateTopicSimilarity_SelfSimilarity(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0.3, 0.7, 0.1}, {-2, 5, 1, 9}, {10, 20}}
	for i, v := range vectors {
		embedder := &mapEmbedder{vectors: map[string][]float32{"q": v, "t": v}}
		m := newTestManager(newMemoryRepo(), embedder)

		result := m.CalculateTopicSimilarity(context.Background(), "q", "t")
		assert.InDelta(t, 1.0, result.SimilarityScore, 1e-6, "vector %d", i)
		assert.Equal(t, ConfidenceHigh, result.Confidence)
		assert.True(t, result.IsContinuation)
		assert.Equal(t, constants.RecommendationContinuation, result.Recommendation)
	}
}

func TestCalculateTopicSimilarity_Orthogonal(t *testing.T) {
	embedder := &mapEmbedder{vectors: map[string][]float32{"q": {1, 0}, "t": {0, 1}}}
	m := newTestManager(newMemoryRepo(), embedder)

	result := m.CalculateTopicSimilarity(context.Background(), "q", "t")
	assert.InDelta(t, 0.0, result.SimilarityScore, 1e-9)
	assert.Equal(t, ConfidenceLow, result.Confidence)
	assert.False(t, result.IsContinuation)
	assert.Equal(t, constants.RecommendationNewTopic, result.Recommendation)
}

func TestCalculateTopicSimilarity_EmptyTopic(t *testing.T) {
	embedder := &mapEmbedder{err: errors.New("must not be called")}
	m := newTestManager(newMemoryRepo(), embedder)

	for _, question := range []string{"", "anything", "What is Docker?"} {
		result := m.CalculateTopicSimilarity(context.Background(), question, "")
		assert.Equal(t, FirstMessageResult(), result)
		assert.Equal(t, 1.0, result.SimilarityScore)
		assert.Equal(t, "First message in session", result.Recommendation)
	}
	assert.Equal(t, 0, embedder.calls)
}

func TestCalculateTopicSimilarity_EmbeddingFailureIsNeutral(t *testing.T) {
	tests := []struct {
		name     string
		embedder *mapEmbedder
	}{
		{"endpoint error", &mapEmbedder{err: apperrors.NewEmbeddingFailed("m", "request failed", errors.New("timeout"))}},
		{"all zero", &mapEmbedder{vectors: map[string][]float32{"q": {0, 0}, "t": {1, 0}}}},
		{"empty vector", &mapEmbedder{vectors: map[string][]float32{"q": {}, "t": {1, 0}}}},
		{"nan", &mapEmbedder{vectors: map[string][]float32{"q": {float32(math.NaN()), 1}, "t": {1, 0}}}},
		{"dimension mismatch", &mapEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}, "t": {1, 0}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(newMemoryRepo(), tt.embedder)
			result := m.CalculateTopicSimilarity(context.Background(), "q", "t")
			assert.Equal(t, 0.5, result.SimilarityScore)
			assert.True(t, result.IsContinuation)
			assert.Equal(t, ConfidenceLow, result.Confidence)
			assert.Equal(t, "Unable to determine similarity. Proceed with caution.", result.Recommendation)
		})
	}
}

func TestClassify_Boundaries(t *testing.T) {
	const eps = 1e-9
	tests := []struct {
		score        float64
		confidence   Confidence
		continuation bool
	}{
		{0.75 + eps, ConfidenceHigh, true},
		{0.75, ConfidenceMedium, true},
		{0.75 - eps, ConfidenceMedium, true},
		{0.55 + eps, ConfidenceMedium, true},
		{0.55, ConfidenceLow, false},
		{0.55 - eps, ConfidenceLow, false},
		{-1, ConfidenceLow, false},
		{1, ConfidenceHigh, true},
	}

	for _, tt := range tests {
		result := Classify(tt.score)
		assert.Equal(t, tt.confidence, result.Confidence, "score %v", tt.score)
		assert.Equal(t, tt.continuation, result.IsContinuation, "score %v", tt.score)
		assert.Equal(t, tt.score, result.SimilarityScore)
	}

	assert.Equal(t, constants.RecommendationPossible, Classify(0.6).Recommendation)
}

func TestCosineSimilarity(t *testing.T) {
	score, err := CosineSimilarity([]float32{1, 1}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt2, score, 1e-6)

	score, err = CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, score, 1e-9)

	score, err = CosineSimilarity([]float32{0, 0}, []float32{1, 0})
	require.NoError(t, err, "epsilon guards zero norms")
	assert.Equal(t, 0.0, score)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 0})
	assert.Error(t, err)
	_, err = CosineSimilarity(nil, []float32{1})
	assert.Error(t, err)
}

func TestGetSessionTopic_Degrades(t *testing.T) {
	repo := newMemoryRepo()
	repo.topics["s1"] = "Docker basics"
	m := newTestManager(repo, &mapEmbedder{})
	ctx := context.Background()

	assert.Equal(t, "Docker basics", m.GetSessionTopic(ctx, "s1"))
	assert.Equal(t, "", m.GetSessionTopic(ctx, "missing"))

	repo.topicErr = apperrors.NewGraphConnectionFailed("bolt://x", errors.New("refused"))
	assert.Equal(t, "", m.GetSessionTopic(ctx, "s1"))
}

func TestSessionTopic_SeparatesMissingFromFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.topics["s1"] = "Docker basics"
	m := newTestManager(repo, &mapEmbedder{})
	ctx := context.Background()

	topic, err := m.SessionTopic(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Docker basics", topic)

	topic, err = m.SessionTopic(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", topic)

	repo.topicErr = apperrors.NewContextTimeout("session_topic", 0, errors.New("deadline exceeded"))
	topic, err = m.SessionTopic(ctx, "s1")
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeout(err))
	assert.Equal(t, "", topic)
}

func TestGetRelevantContext_ShortSessions(t *testing.T) {
	repo := newMemoryRepo()
	embedder := &mapEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	m := newTestManager(repo, embedder)
	ctx := context.Background()

	for n := 0; n <= 2; n++ {
		msgs := make([]graph.Message, n)
		for i := range msgs {
			msgs[i] = graph.Message{Role: "user", Content: fmt.Sprintf("m%d", i)}
		}
		repo.messages["s"] = msgs

		scored, err := m.GetRelevantContextForContinuation(ctx, "s", "q", 3)
		require.NoError(t, err)
		assert.Empty(t, scored, "%d messages", n)
	}
	assert.Equal(t, 0, embedder.calls, "nothing to rank, nothing to embed")
}

func TestGetRelevantContext_TopNSortedDescending(t *testing.T) {
	repo := newMemoryRepo()
	repo.messages["s"] = []graph.Message{
		{ID: "0", Role: "user", Content: "first question"},
		{ID: "1", Role: "assistant", Content: "far", Embedding: []float32{0, 1}},
		{ID: "2", Role: "user", Content: "close", Embedding: []float32{1, 0.1}},
		{ID: "3", Role: "assistant", Content: "middle"},
		{ID: "4", Role: "user", Content: "opposite", Embedding: []float32{-1, 0}},
		{ID: "5", Role: "assistant", Content: "exact"},
	}
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"q":      {1, 0},
		"middle": {1, 1},
		"exact":  {2, 0},
	}}
	m := newTestManager(repo, embedder)

	scored, err := m.GetRelevantContextForContinuation(context.Background(), "s", "q", 3)
	require.NoError(t, err)
	require.Len(t, scored, 3)

	assert.Equal(t, "exact", scored[0].Content)
	assert.Equal(t, "close", scored[1].Content)
	assert.Equal(t, "middle", scored[2].Content)
	for i := 1; i < len(scored); i++ {
		assert.GreaterOrEqual(t, scored[i-1].Similarity, scored[i].Similarity)
	}
	assert.Equal(t, "assistant", scored[0].Role)

	// messages without stored vectors were embedded and written back
	assert.Contains(t, repo.backfilled, "3")
	assert.Contains(t, repo.backfilled, "5")
	assert.NotContains(t, repo.backfilled, "2")
	assert.NotContains(t, repo.backfilled, "0", "the first message is never ranked")
}

func TestGetRelevantContext_DefaultLimitAndStaleVectors(t *testing.T) {
	repo := newMemoryRepo()
	msgs := []graph.Message{{Content: "first"}}
	vectors := map[string][]float32{"q": {1, 0, 0}}
	for i := 0; i < 6; i++ {
		content := fmt.Sprintf("m%d", i)
		// stored vectors from an older model have the wrong dimension
		msgs = append(msgs, graph.Message{Role: "user", Content: content, Embedding: []float32{1, 0}})
		vectors[content] = []float32{float32(i + 1), 1, 0}
	}
	repo.messages["s"] = msgs
	m := newTestManager(repo, &mapEmbedder{vectors: vectors})

	scored, err := m.GetRelevantContextForContinuation(context.Background(), "s", "q", 0)
	require.NoError(t, err)
	require.Len(t, scored, constants.DefaultMaxContextMessages)
	assert.Equal(t, "m5", scored[0].Content)
}

func TestGetRelevantContext_EmbeddingFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.messages["s"] = []graph.Message{{Content: "a"}, {Content: "b"}, {Content: "c"}}
	m := newTestManager(repo, &mapEmbedder{err: apperrors.NewEmbeddingFailed("m", "request failed", errors.New("down"))})

	_, err := m.GetRelevantContextForContinuation(context.Background(), "s", "q", 3)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeEmbedding))
}

func TestUpdateSessionTopicIfChanged_Hysteresis(t *testing.T) {
	tests := []struct {
		score   float64
		updated bool
	}{
		{1.0, false},
		{0.55, false},
		{0.45, false}, // drift flagged, not committed
		{0.4, false},
		{0.3999, true},
		{0.0, true},
		{-0.5, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("score_%v", tt.score), func(t *testing.T) {
			repo := newMemoryRepo()
			repo.topics["s"] = "Docker basics"
			m := newTestManager(repo, &mapEmbedder{})

			updated, err := m.UpdateSessionTopicIfChanged(context.Background(), "s", "Banana recipe", Classify(tt.score))
			require.NoError(t, err)
			assert.Equal(t, tt.updated, updated)
			if tt.updated {
				assert.Equal(t, "Banana recipe", repo.topics["s"])
				assert.Equal(t, "Docker basics", repo.previous["s"])
			} else {
				assert.Equal(t, "Docker basics", repo.topics["s"])
				assert.NotContains(t, repo.previous, "s")
			}
		})
	}
}

func TestUpdateSessionTopicIfChanged_WriteFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.replaceErr = apperrors.NewSessionNotFound("s")
	m := newTestManager(repo, &mapEmbedder{})

	updated, err := m.UpdateSessionTopicIfChanged(context.Background(), "s", "new", Classify(0.1))
	require.Error(t, err)
	assert.False(t, updated)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestEndToEnd_DockerThenBanana(t *testing.T) {
	repo := newMemoryRepo()
	repo.topics["s"] = "Docker basics"
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"Docker basics":   {1, 0},
		"What is Docker?": {1, 0},
		"Banana recipe":   {0, 1},
	}}
	m := newTestManager(repo, embedder)
	ctx := context.Background()

	topic := m.GetSessionTopic(ctx, "s")
	first := m.CalculateTopicSimilarity(ctx, "What is Docker?", topic)
	assert.InDelta(t, 1.0, first.SimilarityScore, 1e-6)
	assert.Equal(t, ConfidenceHigh, first.Confidence)
	updated, err := m.UpdateSessionTopicIfChanged(ctx, "s", "What is Docker?", first)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, "Docker basics", m.GetSessionTopic(ctx, "s"))

	second := m.CalculateTopicSimilarity(ctx, "Banana recipe", m.GetSessionTopic(ctx, "s"))
	assert.InDelta(t, 0.0, second.SimilarityScore, 1e-6)
	assert.Equal(t, ConfidenceLow, second.Confidence)
	assert.False(t, second.IsContinuation)
	updated, err = m.UpdateSessionTopicIfChanged(ctx, "s", "Banana recipe", second)
	require.NoError(t, err)
	assert.True(t, updated)

	assert.Equal(t, "Banana recipe", m.GetSessionTopic(ctx, "s"))
	assert.Equal(t, "Docker basics", repo.previous["s"])
}
