package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"stackqa-memory/backend/internal/adapter"
	"stackqa-memory/backend/internal/constants"
	"stackqa-memory/backend/internal/graph"
	"stackqa-memory/backend/internal/metrics"
	"stackqa-memory/backend/pkg/config"
	apperrors "stackqa-memory/backend/pkg/errors"
	"stackqa-memory/backend/pkg/logger"
)

type seedSession struct {
	id       string
	topic    string
	messages []graph.NewMessage
}

// demoSessions is a small conversation set for local UI work
var demoSessions = []seedSession{
	{
		id:    "demo-docker",
		topic: "How do I build Docker images?",
		messages: []graph.NewMessage{
			{Role: constants.RoleUser, Content: "How do I build Docker images?"},
			{Role: constants.RoleAssistant, Content: "Write a Dockerfile and run `docker build -t myapp .` in the same directory."},
			{Role: constants.RoleUser, Content: "How do I make the image smaller?"},
			{Role: constants.RoleAssistant, Content: "Use a multi-stage build and copy only the final binary into a slim or distroless base image."},
		},
	},
	{
		id:    "demo-baking",
		topic: "What's a good banana bread recipe?",
		messages: []graph.NewMessage{
			{Role: constants.RoleUser, Content: "What's a good banana bread recipe?"},
			{Role: constants.RoleAssistant, Content: "Mash three ripe bananas, mix with melted butter, sugar, an egg, flour and baking soda, then bake at 175C for about an hour."},
		},
	},
}

func main() {
	userID := flag.String("user", "demo_user", "User to own the demo sessions")
	force := flag.Bool("force", false, "Recreate demo sessions that already exist")
	embed := flag.Bool("embed", false, "Store message embeddings using the configured endpoint")
	flag.Parse()

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
	log.Info("Starting database seeding...")

	ctx := context.Background()
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

	log.Info("Creating constraints and indexes...")
	if err := graph.EnsureSchema(ctx, store); err != nil {
		log.Fatal("Failed to ensure schema", zap.Error(err))
	}

	repo := graph.NewRepository(store, metrics.NewNoopCollector())

	var embedder adapter.Embedder
	if *embed {
		embedder = adapter.NewOpenAIEmbedder(adapter.EmbedderConfig{
			BaseURL: cfg.EmbeddingURL,
			APIKey:  cfg.EmbeddingAPIKey,
			Model:   cfg.EmbeddingModel,
			Timeout: cfg.EmbeddingTimeout,
		}, nil)
	}

	for _, s := range demoSessions {
		existing, err := repo.GetSession(ctx, s.id)
		switch {
		case err == nil && !*force:
			log.Info("Session already exists, skipping (use -force to recreate)",
				zap.String("session_id", s.id),
				zap.Int64("messages", existing.MessageCount),
			)
			continue
		case err == nil:
			if _, err := repo.DeleteSession(ctx, s.id); err != nil {
				log.Fatal("Failed to delete session", zap.String("session_id", s.id), zap.Error(err))
			}
		case !apperrors.IsNotFound(err):
			log.Fatal("Failed to read session", zap.String("session_id", s.id), zap.Error(err))
		}

		if err := seed(ctx, repo, embedder, *userID, s); err != nil {
			log.Fatal("Failed to seed session", zap.String("session_id", s.id), zap.Error(err))
		}
		log.Info("Seeded session",
			zap.String("session_id", s.id),
			zap.String("topic", s.topic),
			zap.Int("messages", len(s.messages)),
		)
	}

	log.Info("Database seeding completed", zap.String("user_id", *userID))
}

func seed(ctx context.Context, repo *graph.Repository, embedder adapter.Embedder, userID string, s seedSession) error {
	var vectors [][]float32
	if embedder != nil {
		texts := make([]string, len(s.messages))
		for i, m := range s.messages {
			texts[i] = m.Content
		}
		var err error
		if vectors, err = embedder.Embed(ctx, texts); err != nil {
			return fmt.Errorf("failed to embed messages: %w", err)
		}
	}

	for i, m := range s.messages {
		m.SessionID = s.id
		if vectors != nil {
			m.Embedding = vectors[i]
		}
		if _, err := repo.AppendMessage(ctx, m); err != nil {
			return err
		}
	}
	return repo.LinkSessionToUser(ctx, userID, s.id, graph.LinkOptions{Topic: s.topic, OverwriteTopic: true})
}
