package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "stackqa-memory/backend/pkg/errors"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LITELLM_URL", "http://proxy:4000")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("EMBEDDING_URL", "")
	t.Setenv("EMBEDDING_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 3, cfg.MaxContextMessages)
	assert.Equal(t, "http://proxy:4000", cfg.EmbeddingURL, "embeddings share the chat proxy by default")
	assert.Equal(t, "sk-test", cfg.EmbeddingAPIKey)
	assert.False(t, cfg.CacheEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("QUERY_TIMEOUT", "2s")
	t.Setenv("EMBEDDING_TIMEOUT", "750ms")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("ENSURE_SCHEMA", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.EmbeddingTimeout)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.False(t, cfg.EnsureSchema)
	assert.True(t, cfg.CacheEnabled())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Neo4jURI:           "bolt://localhost:7687",
			Neo4jUser:          "neo4j",
			Neo4jPassword:      "password",
			LiteLLMURL:         "http://localhost:4000",
			ModelID:            "model",
			EmbeddingModel:     "text-embedding-3-small",
			QueryTimeout:       time.Second,
			EmbeddingTimeout:   time.Second,
			MaxContextMessages: 3,
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Neo4jURI = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeConfig))

	cfg = base()
	cfg.MaxContextMessages = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.QueryTimeout = 0
	assert.Error(t, cfg.Validate())
}
