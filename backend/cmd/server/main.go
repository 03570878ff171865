package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"stackqa-memory/backend/internal/adapter"
	"stackqa-memory/backend/internal/agent"
	"stackqa-memory/backend/internal/api"
	"stackqa-memory/backend/internal/graph"
	"stackqa-memory/backend/internal/history"
	"stackqa-memory/backend/internal/metrics"
	"stackqa-memory/backend/internal/topic"
	"stackqa-memory/backend/pkg/config"
	"stackqa-memory/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...")

	ctx := context.Background()

	// Initialize Neo4j
	store, err := graph.NewStore(ctx, graph.StoreConfig{
		URI:          cfg.Neo4jURI,
		Username:     cfg.Neo4jUser,
		Password:     cfg.Neo4jPassword,
		Database:     cfg.Neo4jDatabase,
		MaxPoolSize:  cfg.Neo4jMaxPoolSize,
		QueryTimeout: cfg.QueryTimeout,
	})
	if err != nil {
		log.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}
	defer store.Close(context.Background())

	if cfg.EnsureSchema {
		if err := graph.EnsureSchema(ctx, store); err != nil {
			log.Fatal("Failed to ensure graph schema", zap.Error(err))
		}
	}

	// Initialize dependencies
	collector := metrics.NewCollector()
	repo := graph.NewRepository(store, collector)

	var embedder adapter.Embedder = adapter.NewOpenAIEmbedder(adapter.EmbedderConfig{
		BaseURL: cfg.EmbeddingURL,
		APIKey:  cfg.EmbeddingAPIKey,
		Model:   cfg.EmbeddingModel,
		Timeout: cfg.EmbeddingTimeout,
	}, collector)

	if cfg.CacheEnabled() {
		cache, err := adapter.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.EmbeddingCacheTTL)
		if err != nil {
			// The cache only saves embedding calls; run without it
			log.Warn("Embedding cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer cache.Close()
			embedder = adapter.NewCachingEmbedder(embedder, cache, cfg.EmbeddingModel, collector)
			log.Info("Embedding cache enabled", zap.String("addr", cfg.RedisAddr))
		}
	}

	chatHistory := history.NewAdapter(repo, embedder)
	topics := topic.NewManager(repo, chatHistory, embedder, collector)
	llmAdapter := adapter.NewLLMAdapter(cfg.LiteLLMURL, cfg.OpenRouterAPIKey, cfg.ModelID)
	agentOrch := agent.NewOrchestrator(topics, chatHistory, repo, llmAdapter, agent.Options{
		MaxContextMessages: cfg.MaxContextMessages,
		HistoryWindow:      cfg.HistoryWindow,
	})

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	handlers := api.NewHandlers(agentOrch, repo, topics, store)
	router := newRouter(log, handlers, collector.Registry())

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("model", llmAdapter.Model()),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// newRouter wires middleware, the metrics endpoint and the API routes
func newRouter(log *zap.Logger, handlers *api.Handlers, registry *prometheus.Registry) *gin.Engine {
	router := gin.New()
	router.Use(api.GinLogger(log))
	router.Use(gin.Recovery())
	router.Use(api.CORS())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	handlers.RegisterRoutes(router)
	return router
}
