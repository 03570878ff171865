package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"stackqa-memory/backend/internal/metrics"
	"stackqa-memory/backend/pkg/logger"
)

// EmbeddingCache stores vectors by key. A miss is (nil, false, nil).
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

// RedisCache keeps embeddings in Redis as JSON arrays with a TTL
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and pings it
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get returns a cached vector
func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var vector []float32
	if err := json.Unmarshal(val, &vector); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached embedding: %w", err)
	}
	return vector, true, nil
}

// Set stores a vector with the cache TTL
func (c *RedisCache) Set(ctx context.Context, key string, vector []float32) error {
	payload, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachingEmbedder serves repeated texts from a cache. Cache failures are
// logged and treated as misses; they never fail an embedding call.
type CachingEmbedder struct {
	next    Embedder
	cache   EmbeddingCache
	model   string
	metrics metrics.Collector
	logger  *zap.Logger
}

// NewCachingEmbedder wraps next with cache
func NewCachingEmbedder(next Embedder, cache EmbeddingCache, model string, collector metrics.Collector) *CachingEmbedder {
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &CachingEmbedder{
		next:    next,
		cache:   cache,
		model:   model,
		metrics: collector,
		logger:  logger.Get(),
	}
}

// CacheKey is the Redis key for a text under a model
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + model + ":" + hex.EncodeToString(sum[:])
}

// EmbedOne embeds a single text
func (c *CachingEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Embed returns cached vectors and embeds only the misses
func (c *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		vector, ok, err := c.cache.Get(ctx, CacheKey(c.model, text))
		switch {
		case err != nil:
			c.metrics.RecordCacheLookup(ctx, "error")
			c.logger.Warn("Embedding cache read failed", zap.Error(err))
		case ok && ValidateVector(vector) == nil:
			c.metrics.RecordCacheLookup(ctx, "hit")
			out[i] = vector
			continue
		default:
			c.metrics.RecordCacheLookup(ctx, "miss")
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		if err := ValidateVectors(out); err != nil {
			// cached vectors of different dimensions, e.g. after a model swap
			return c.next.Embed(ctx, texts)
		}
		return out, nil
	}

	fresh, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		out[i] = fresh[j]
		if err := c.cache.Set(ctx, CacheKey(c.model, texts[i]), fresh[j]); err != nil {
			c.logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	if err := ValidateVectors(out); err != nil {
		return c.next.Embed(ctx, texts)
	}
	return out, nil
}
