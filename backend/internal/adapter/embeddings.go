package adapter

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"stackqa-memory/backend/internal/metrics"
	apperrors "stackqa-memory/backend/pkg/errors"
	"stackqa-memory/backend/pkg/logger"
)

// Embedder turns text into vectors. Every returned vector is non-empty,
// finite, not all-zero, and all vectors of one call share a dimension;
// anything else is reported as an embedding failure.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// EmbedderConfig configures the OpenAI-compatible embedding client
type EmbedderConfig struct {
	BaseURL string // LiteLLM proxy root; "/v1" is appended
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint behind a
// circuit breaker, so a dead endpoint fails fast instead of eating the
// request timeout on every turn.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	metrics metrics.Collector
	logger  *zap.Logger
}

// NewOpenAIEmbedder creates an embedder
func NewOpenAIEmbedder(cfg EmbedderConfig, collector metrics.Collector) *OpenAIEmbedder {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "dummy-key"
	}
	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/v1"

	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	log := logger.Get()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embeddings",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		breaker: breaker,
		metrics: collector,
		logger:  log,
	}
}

// Model returns the embedding model name
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// EmbedOne embeds a single text
func (e *OpenAIEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Embed embeds texts in one request. The result is index-aligned with texts.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, apperrors.NewEmbeddingFailed(e.model, fmt.Sprintf("text %d is empty", i), nil)
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := e.breaker.Execute(func() (interface{}, error) {
		return e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.model),
		})
	})
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		e.metrics.RecordEmbedding(ctx, "error", len(texts), elapsed)
		e.logger.Warn("Embedding request failed",
			zap.String("model", e.model),
			zap.Int("texts", len(texts)),
			zap.Int64("duration_ms", elapsed),
			zap.Error(err),
		)
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.metrics.RecordError(ctx, "embed", string(apperrors.ErrorTypeContext))
			return nil, apperrors.NewContextTimeout("embed", e.timeout, err)
		}
		e.metrics.RecordError(ctx, "embed", string(apperrors.ErrorTypeEmbedding))
		return nil, apperrors.NewEmbeddingFailed(e.model, describeEmbeddingError(ctx, err), err)
	}

	resp, ok := raw.(openai.EmbeddingResponse)
	if !ok {
		return nil, apperrors.NewEmbeddingFailed(e.model, "unexpected response type", nil)
	}

	vectors, err := alignEmbeddings(resp.Data, len(texts))
	if err == nil {
		err = ValidateVectors(vectors)
	}
	if err != nil {
		e.metrics.RecordEmbedding(ctx, "invalid", len(texts), elapsed)
		return nil, apperrors.NewEmbeddingFailed(e.model, err.Error(), nil)
	}

	e.metrics.RecordEmbedding(ctx, "success", len(texts), elapsed)
	e.logger.Debug("Texts embedded",
		zap.String("model", e.model),
		zap.Int("texts", len(texts)),
		zap.Int("dimensions", len(vectors[0])),
		zap.Int64("duration_ms", elapsed),
	)
	return vectors, nil
}

func describeEmbeddingError(ctx context.Context, err error) string {
	switch {
	case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
		return "endpoint circuit open"
	case stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return "request timed out"
	case stderrors.Is(err, context.Canceled):
		return "request cancelled"
	}
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return fmt.Sprintf("endpoint returned %d", apiErr.HTTPStatusCode)
	}
	return "request failed"
}

// alignEmbeddings orders the response by input index
func alignEmbeddings(data []openai.Embedding, want int) ([][]float32, error) {
	if len(data) != want {
		return nil, fmt.Errorf("expected %d vectors, got %d", want, len(data))
	}
	sorted := make([]openai.Embedding, len(data))
	copy(sorted, data)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	out := make([][]float32, want)
	for i, d := range sorted {
		if d.Index != i {
			return nil, fmt.Errorf("missing vector for input %d", i)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// ValidateVectors rejects empty, non-finite, all-zero and mismatched vectors
func ValidateVectors(vectors [][]float32) error {
	dim := -1
	for i, v := range vectors {
		if err := ValidateVector(v); err != nil {
			return fmt.Errorf("vector %d: %w", i, err)
		}
		if dim >= 0 && len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
		dim = len(v)
	}
	return nil
}

// ValidateVector rejects a single degenerate vector
func ValidateVector(v []float32) error {
	if len(v) == 0 {
		return stderrors.New("empty vector")
	}
	nonZero := false
	for _, f := range v {
		x := float64(f)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return stderrors.New("non-finite component")
		}
		if x != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return stderrors.New("all-zero vector")
	}
	return nil
}
