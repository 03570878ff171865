package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackqa-memory/backend/internal/adapter"
	"stackqa-memory/backend/internal/graph"
	"stackqa-memory/backend/internal/topic"
	apperrors "stackqa-memory/backend/pkg/errors"
)

type fakeTopics struct {
	topic       string
	topicErr    error
	result      topic.SimilarityResult
	relevant    []topic.ScoredMessage
	relevantErr error
	commit      bool
	commitErr   error

	relevantCalls int
	updateCalls   int
}

func (f *fakeTopics) SessionTopic(ctx context.Context, sessionID string) (string, error) {
	if f.topicErr != nil {
		return "", f.topicErr
	}
	return f.topic, nil
}

func (f *fakeTopics) CalculateTopicSimilarity(ctx context.Context, question, sessionTopic string) topic.SimilarityResult {
	if sessionTopic == "" {
		return topic.FirstMessageResult()
	}
	return f.result
}

func (f *fakeTopics) GetRelevantContextForContinuation(ctx context.Context, sessionID, question string, maxMessages int) ([]topic.ScoredMessage, error) {
	f.relevantCalls++
	if f.relevantErr != nil {
		return nil, f.relevantErr
	}
	return f.relevant, nil
}

func (f *fakeTopics) UpdateSessionTopicIfChanged(ctx context.Context, sessionID, newQuestion string, result topic.SimilarityResult) (bool, error) {
	f.updateCalls++
	return f.commit, f.commitErr
}

type fakeHistory struct {
	messages  []graph.Message
	readErr   error
	appendErr error
	added     []graph.Message
}

func (f *fakeHistory) Messages(ctx context.Context, sessionID string) ([]graph.Message, error) {
	return f.messages, f.readErr
}

func (f *fakeHistory) AddUserMessage(ctx context.Context, sessionID, content string) (*graph.Message, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	msg := graph.Message{Role: "user", Content: content}
	f.added = append(f.added, msg)
	return &msg, nil
}

func (f *fakeHistory) AddAIMessage(ctx context.Context, sessionID, content, thought string) (*graph.Message, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	msg := graph.Message{Role: "assistant", Content: content, Thought: thought}
	f.added = append(f.added, msg)
	return &msg, nil
}

type fakeSessions struct {
	links    []graph.LinkOptions
	stored   string
	topicSet string
	err      error
}

func (f *fakeSessions) LinkSessionToUser(ctx context.Context, userID, sessionID string, opts graph.LinkOptions) error {
	f.links = append(f.links, opts)
	return f.err
}

func (f *fakeSessions) SetTopicIfEmpty(ctx context.Context, sessionID, topic string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.stored != "" {
		return false, nil
	}
	f.stored, f.topicSet = topic, topic
	return true, nil
}

// timeoutRepo fails every topic read the way a slow graph does
type timeoutRepo struct {
	replaced int
}

func (r *timeoutRepo) SessionTopic(ctx context.Context, sessionID string) (string, error) {
	return "", apperrors.NewContextTimeout("session_topic", 0, context.DeadlineExceeded)
}

func (r *timeoutRepo) ReplaceTopic(ctx context.Context, sessionID, topic string) (*graph.TopicChange, error) {
	r.replaced++
	return &graph.TopicChange{SessionID: sessionID, Topic: topic}, nil
}

func (r *timeoutRepo) SetMessageEmbedding(ctx context.Context, messageID string, embedding []float32) error {
	return nil
}

type countingEmbedder struct {
	calls int
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (e *countingEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return []float32{1, 0}, nil
}

type fakeLLM struct {
	resp     *adapter.Response
	err      error
	tokens   []string
	system   string
	prompt   string
	history  []adapter.ChatMessage
	streamed bool
}

func (f *fakeLLM) Generate(ctx context.Context, systemPrompt string, history []adapter.ChatMessage, question string) (*adapter.Response, error) {
	f.system, f.history, f.prompt = systemPrompt, history, question
	return f.resp, f.err
}

func (f *fakeLLM) GenerateStream(ctx context.Context, systemPrompt string, history []adapter.ChatMessage, question string, onToken func(string)) (*adapter.Response, error) {
	f.streamed = true
	f.system, f.history, f.prompt = systemPrompt, history, question
	if f.err != nil {
		return nil, f.err
	}
	for _, tok := range f.tokens {
		onToken(tok)
	}
	return f.resp, nil
}

type recordingObserver struct {
	stages []string
	tokens []string
}

func (r *recordingObserver) Status(stage, message string, complete bool) {
	if complete {
		r.stages = append(r.stages, stage+":done")
		return
	}
	r.stages = append(r.stages, stage)
}

func (r *recordingObserver) Token(content string) {
	r.tokens = append(r.tokens, content)
}

type harness struct {
	topics   *fakeTopics
	history  *fakeHistory
	sessions *fakeSessions
	llm      *fakeLLM
	orch     *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		topics:   &fakeTopics{},
		history:  &fakeHistory{},
		sessions: &fakeSessions{},
		llm:      &fakeLLM{resp: &adapter.Response{Content: "Use a multi-stage build."}},
	}
	h.orch = NewOrchestrator(h.topics, h.history, h.sessions, h.llm, Options{MaxContextMessages: 3, HistoryWindow: 20})
	return h
}

func TestRunTurn_Validation(t *testing.T) {
	h := newHarness()

	_, err := h.orch.RunTurn(context.Background(), TurnRequest{Question: "hi"}, nil)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))

	_, err = h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Question: "  "}, nil)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
	assert.Empty(t, h.history.added)
}

func TestRunTurn_FirstQuestionSetsTopic(t *testing.T) {
	h := newHarness()

	result, err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Question: "How do I build Docker images?"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Use a multi-stage build.", result.Answer)
	assert.Equal(t, "How do I build Docker images?", result.Topic)
	assert.False(t, result.TopicChanged)
	assert.Equal(t, 1.0, result.Similarity.SimilarityScore)
	assert.Empty(t, result.RelevantContext)
	assert.Empty(t, result.Warnings)

	assert.Equal(t, "How do I build Docker images?", h.sessions.topicSet)
	assert.Zero(t, h.topics.relevantCalls)
	assert.Zero(t, h.topics.updateCalls)
	require.Len(t, h.history.added, 2)
	assert.Equal(t, "user", h.history.added[0].Role)
	assert.Equal(t, "assistant", h.history.added[1].Role)
	assert.False(t, h.llm.streamed)
}

func TestRunTurn_FirstQuestionWithUserLinksTopic(t *testing.T) {
	h := newHarness()

	result, err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", UserID: "u1", Question: "Docker?"}, nil)
	require.NoError(t, err)

	require.Len(t, h.sessions.links, 1)
	assert.Empty(t, h.sessions.links[0].Topic, "the link never carries a topic")
	assert.Equal(t, "Docker?", h.sessions.topicSet)
	assert.Equal(t, "Docker?", result.Topic)
}

func TestRunTurn_FirstTopicAlreadyTakenIsKept(t *testing.T) {
	h := newHarness()
	h.sessions.stored = "Docker images"

	result, err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Question: "Banana bread?"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Docker images", h.sessions.stored)
	assert.Empty(t, h.sessions.topicSet)
	assert.Empty(t, result.Topic, "the question only becomes the topic when it was written")
	assert.Empty(t, result.Warnings)
}

func TestRunTurn_ContinuationUsesRelevantContext(t *testing.T) {
	h := newHarness()
	h.topics.topic = "Docker images"
	h.topics.result = topic.Classify(0.8)
	h.topics.relevant = []topic.ScoredMessage{{Similarity: 0.9, Role: "assistant", Content: "layers are cached"}}
	h.history.messages = []graph.Message{
		{Role: "user", Content: "Docker images"},
		{Role: "assistant", Content: "layers are cached"},
	}

	result, err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", UserID: "u1", Question: "How do I make them smaller?"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, h.topics.relevantCalls)
	assert.Equal(t, 1, h.topics.updateCalls)
	assert.Len(t, result.RelevantContext, 1)
	assert.Equal(t, "Docker images", result.Topic)
	assert.False(t, result.TopicChanged)

	assert.Contains(t, h.llm.system, "Docker images")
	assert.Contains(t, h.llm.prompt, "layers are cached")
	assert.Contains(t, h.llm.prompt, "CONTINUATION")
	assert.Contains(t, h.llm.prompt, "How do I make them smaller?")
	assert.Equal(t, fewShot, h.llm.history)

	// existing topic is never overwritten by the link
	require.Len(t, h.sessions.links, 1)
	assert.Empty(t, h.sessions.links[0].Topic)
}

func TestRunTurn_NewTopicCommits(t *testing.T) {
	h := newHarness()
	h.topics.topic = "Docker images"
	h.topics.result = topic.Classify(0.1)
	h.topics.commit = true

	result, err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Question: "Banana bread recipe?"}, nil)
	require.NoError(t, err)

	assert.Zero(t, h.topics.relevantCalls)
	assert.True(t, result.TopicChanged)
	assert.Equal(t, "Banana bread recipe?", result.Topic)
	assert.Contains(t, h.llm.prompt, "NEW_TOPIC")
}

func TestRunTurn_DegradesOnStoreFailures(t *testing.T) {
	h := newHarness()
	h.topics.topic = "Docker images"
	h.topics.result = topic.Classify(0.6)
	h.topics.relevantErr = apperrors.NewGraphConnectionFailed("bolt://x", errors.New("refused"))
	h.topics.commitErr = errors.New("write failed")
	h.history.readErr = apperrors.NewGraphConnectionFailed("bolt://x", errors.New("refused"))
	h.history.appendErr = apperrors.NewGraphQueryFailed("append", errors.New("boom"))

	result, err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Question: "and smaller?"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Use a multi-stage build.", result.Answer)
	assert.Empty(t, result.RelevantContext)
	assert.Len(t, result.Warnings, 5)
	assert.Contains(t, result.Warnings[0], "connection")
	assert.Contains(t, result.Warnings[4], "unexpected error")
	assert.Contains(t, h.llm.prompt, "(no previous messages)")
}

func TestRunTurn_UnreachableStoreOnFirstQuestionSkipsTopic(t *testing.T) {
	h := newHarness()
	h.topics.topicErr = apperrors.NewGraphConnectionFailed("bolt://x", errors.New("refused"))
	h.history.readErr = apperrors.NewGraphConnectionFailed("bolt://x", errors.New("refused"))

	result, err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Question: "Docker?"}, nil)
	require.NoError(t, err)

	assert.Empty(t, h.sessions.topicSet)
	assert.Empty(t, result.Topic)
	assert.False(t, result.TopicChanged)
	assert.Equal(t, topic.NeutralResult(), result.Similarity)
	assert.Zero(t, h.topics.relevantCalls)
	assert.Zero(t, h.topics.updateCalls)
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "session topic unavailable: connection")
}

func TestRunTurn_TopicReadTimeoutLeavesExistingTopic(t *testing.T) {
	repo := &timeoutRepo{}
	hist := &fakeHistory{messages: []graph.Message{
		{Role: "user", Content: "How do I build Docker images?"},
		{Role: "assistant", Content: "Use a multi-stage build."},
	}}
	embedder := &countingEmbedder{}
	sessions := &fakeSessions{stored: "How do I build Docker images?"}
	llm := &fakeLLM{resp: &adapter.Response{Content: "Copy only the binary."}}
	orch := NewOrchestrator(topic.NewManager(repo, hist, embedder, nil), hist, sessions, llm, Options{})

	result, err := orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", UserID: "u1", Question: "How do I make them smaller?"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Copy only the binary.", result.Answer)
	assert.Empty(t, sessions.topicSet, "an unreadable topic must not be replaced by the question")
	assert.Equal(t, "How do I build Docker images?", sessions.stored)
	assert.Zero(t, repo.replaced)
	assert.Zero(t, embedder.calls)
	assert.Empty(t, result.Topic)
	assert.NotEqual(t, topic.FirstMessageResult(), result.Similarity)
	assert.Equal(t, topic.NeutralResult(), result.Similarity)
	require.Len(t, sessions.links, 1)
	assert.Empty(t, sessions.links[0].Topic)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "session topic unavailable: context")
}

func TestRunTurn_LLMFailureAborts(t *testing.T) {
	h := newHarness()
	h.llm.err = errors.New("upstream down")

	result, err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Question: "Docker?"}, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Empty(t, h.history.added)
}

func TestRunTurn_StreamsToObserver(t *testing.T) {
	h := newHarness()
	h.topics.topic = "Docker images"
	h.topics.result = topic.Classify(0.9)
	h.llm.tokens = []string{"Use ", "a multi-stage build."}
	h.llm.resp = &adapter.Response{Content: "Use a multi-stage build.", Thought: "they want small images"}
	obs := &recordingObserver{}

	result, err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Question: "smaller?"}, obs)
	require.NoError(t, err)

	assert.True(t, h.llm.streamed)
	assert.Equal(t, "Use a multi-stage build.", strings.Join(obs.tokens, ""))
	assert.Equal(t, []string{"topic", "topic:done", "context", "context:done", "generate", "generate:done"}, obs.stages)
	assert.Equal(t, "they want small images", result.Thought)
	require.Len(t, h.history.added, 2)
	assert.Equal(t, "they want small images", h.history.added[1].Thought)
}

func TestRunTurn_EmptyAnswerIsNotStored(t *testing.T) {
	h := newHarness()
	h.llm.resp = &adapter.Response{}

	_, err := h.orch.RunTurn(context.Background(), TurnRequest{SessionID: "s1", Question: "Docker?"}, nil)
	require.NoError(t, err)
	require.Len(t, h.history.added, 1)
	assert.Equal(t, "user", h.history.added[0].Role)
}

func TestNewOrchestrator_DefaultsContextLimit(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, nil, Options{})
	assert.Equal(t, 3, o.opts.MaxContextMessages)
}
