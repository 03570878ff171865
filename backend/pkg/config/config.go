package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	apperrors "stackqa-memory/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Neo4j
	Neo4jURI         string
	Neo4jUser        string
	Neo4jPassword    string
	Neo4jDatabase    string
	Neo4jMaxPoolSize int
	QueryTimeout     time.Duration
	EnsureSchema     bool

	// Chat model (LiteLLM / OpenRouter compatible)
	LiteLLMURL       string
	ModelID          string
	OpenRouterAPIKey string

	// Embeddings
	EmbeddingURL      string
	EmbeddingAPIKey   string
	EmbeddingModel    string
	EmbeddingTimeout  time.Duration
	EmbeddingCacheTTL time.Duration

	// Redis embedding cache, disabled when RedisAddr is empty
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Topic continuity
	MaxContextMessages int
	HistoryWindow      int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", ""),
		Neo4jURI:           getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:          getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:      getEnv("NEO4J_PASSWORD", "password"),
		Neo4jDatabase:      getEnv("NEO4J_DATABASE", ""),
		Neo4jMaxPoolSize:   getEnvInt("NEO4J_MAX_POOL_SIZE", 50),
		QueryTimeout:       getEnvDuration("QUERY_TIMEOUT", 10*time.Second),
		EnsureSchema:       getEnvBool("ENSURE_SCHEMA", true),
		LiteLLMURL:         getEnv("LITELLM_URL", "http://localhost:4000"),
		ModelID:            getEnv("MODEL_ID", "openrouter/anthropic/claude-3.5-sonnet"),
		OpenRouterAPIKey:   getEnv("OPENROUTER_API_KEY", ""),
		EmbeddingURL:       getEnv("EMBEDDING_URL", ""),
		EmbeddingAPIKey:    getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingTimeout:   getEnvDuration("EMBEDDING_TIMEOUT", 15*time.Second),
		EmbeddingCacheTTL:  getEnvDuration("EMBEDDING_CACHE_TTL", 24*time.Hour),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		MaxContextMessages: getEnvInt("MAX_CONTEXT_MESSAGES", 3),
		HistoryWindow:      getEnvInt("HISTORY_WINDOW", 20),
	}

	// Embeddings default to the same OpenAI-compatible proxy as chat
	if cfg.EmbeddingURL == "" {
		cfg.EmbeddingURL = cfg.LiteLLMURL
	}
	if cfg.EmbeddingAPIKey == "" {
		cfg.EmbeddingAPIKey = cfg.OpenRouterAPIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Neo4jURI == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_URI")
	}
	if c.Neo4jUser == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_USER")
	}
	if c.Neo4jPassword == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
	}
	if c.LiteLLMURL == "" {
		return apperrors.NewConfigMissingRequired("LITELLM_URL")
	}
	if c.ModelID == "" {
		return apperrors.NewConfigMissingRequired("MODEL_ID")
	}
	if c.EmbeddingModel == "" {
		return apperrors.NewConfigMissingRequired("EMBEDDING_MODEL")
	}
	if c.QueryTimeout <= 0 {
		return apperrors.NewConfigValidationFailed("QUERY_TIMEOUT", "must be positive")
	}
	if c.EmbeddingTimeout <= 0 {
		return apperrors.NewConfigValidationFailed("EMBEDDING_TIMEOUT", "must be positive")
	}
	if c.MaxContextMessages < 1 {
		return apperrors.NewConfigValidationFailed("MAX_CONTEXT_MESSAGES", "must be at least 1")
	}
	if c.HistoryWindow < 0 {
		return apperrors.NewConfigValidationFailed("HISTORY_WINDOW", "must not be negative")
	}
	// API keys are optional for local LiteLLM deployments
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CacheEnabled reports whether a Redis embedding cache is configured
func (c *Config) CacheEnabled() bool {
	return c.RedisAddr != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
