// Command memctl inspects and maintains the conversation graph.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stackqa-memory/backend/internal/graph"
	"stackqa-memory/backend/internal/metrics"
	"stackqa-memory/backend/pkg/config"
	"stackqa-memory/backend/pkg/logger"
)

// backend is what the admin commands need from the graph
type backend interface {
	EnsureSchema(ctx context.Context) error
	ListUsers(ctx context.Context) ([]string, error)
	ListSessions(ctx context.Context, userID string) ([]graph.SessionSummary, error)
	CountMessages(ctx context.Context, sessionID string) (int64, error)
	GetSession(ctx context.Context, sessionID string) (*graph.Session, error)
	DeleteSession(ctx context.Context, sessionID string) (*graph.DeleteResult, error)
	DeleteUser(ctx context.Context, userID string) (*graph.DeleteResult, error)
}

type opener func(ctx context.Context) (backend, error)

// graphBackend adds schema bootstrap to the repository
type graphBackend struct {
	*graph.Repository
	store *graph.Store
}

func (b graphBackend) EnsureSchema(ctx context.Context) error {
	return graph.EnsureSchema(ctx, b.store)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	connector := graph.NewConnector(graph.StoreConfig{
		URI:          cfg.Neo4jURI,
		Username:     cfg.Neo4jUser,
		Password:     cfg.Neo4jPassword,
		Database:     cfg.Neo4jDatabase,
		MaxPoolSize:  cfg.Neo4jMaxPoolSize,
		QueryTimeout: cfg.QueryTimeout,
	})
	defer connector.Close(context.Background())

	open := func(ctx context.Context) (backend, error) {
		store, err := connector.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return graphBackend{Repository: graph.NewRepository(store, metrics.NewNoopCollector()), store: store}, nil
	}

	if err := rootCMD(open).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCMD(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "memctl",
		Short:        "Inspect and maintain the conversation graph",
		SilenceUsage: true,
	}
	root.AddCommand(
		schemaCMD(open),
		usersCMD(open),
		sessionsCMD(open),
		topicCMD(open),
		deleteSessionCMD(open),
		deleteUserCMD(open),
	)
	return root
}
