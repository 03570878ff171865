package graph

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"go.uber.org/zap"

	apperrors "stackqa-memory/backend/pkg/errors"
	"stackqa-memory/backend/pkg/logger"
)

// StoreConfig holds the connection settings, read once at process start
type StoreConfig struct {
	URI          string
	Username     string
	Password     string
	Database     string // empty selects the server default
	MaxPoolSize  int
	QueryTimeout time.Duration // applied when the caller context has no deadline
}

// Store owns the Neo4j driver and runs parameterized queries.
// The driver pools connections internally; Store is safe for concurrent use.
type Store struct {
	driver neo4j.DriverWithContext
	cfg    StoreConfig
	logger *zap.Logger
}

// NewStore creates the driver and verifies connectivity
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4jconfig.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
		},
	)
	if err != nil {
		return nil, apperrors.NewGraphConnectionFailed(cfg.URI, err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewGraphConnectionFailed(cfg.URI, err)
	}

	s := &Store{
		driver: driver,
		cfg:    cfg,
		logger: logger.Get(),
	}
	s.logger.Info("Graph store connected",
		zap.String("uri", cfg.URI),
		zap.String("database", cfg.Database),
	)
	return s, nil
}

// Close closes the Neo4j driver connection
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// VerifyConnectivity checks that the server is reachable
func (s *Store) VerifyConnectivity(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return s.classify(ctx, "verify connectivity", err)
	}
	return nil
}

// Query runs a statement in a managed write transaction and returns every record
func (s *Store) Query(ctx context.Context, statement string, params map[string]any) ([]Record, error) {
	return s.run(ctx, neo4j.AccessModeWrite, statement, params)
}

// QueryRead runs a statement in a managed read transaction
func (s *Store) QueryRead(ctx context.Context, statement string, params map[string]any) ([]Record, error) {
	return s.run(ctx, neo4j.AccessModeRead, statement, params)
}

func (s *Store) run(ctx context.Context, mode neo4j.AccessMode, statement string, params map[string]any) ([]Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.cfg.Database,
	})
	defer session.Close(ctx)

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, statement, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]Record, 0, len(records))
		for _, rec := range records {
			out = append(out, toRecord(rec))
		}
		return out, nil
	}

	var (
		raw any
		err error
	)
	if mode == neo4j.AccessModeRead {
		raw, err = session.ExecuteRead(ctx, work)
	} else {
		raw, err = session.ExecuteWrite(ctx, work)
	}
	if err != nil {
		return nil, s.classify(ctx, summarizeStatement(statement), err)
	}

	records, _ := raw.([]Record)
	return records, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

// classify maps driver failures onto the typed failure kinds
func (s *Store) classify(ctx context.Context, operation string, err error) error {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.NewContextTimeout(operation, s.cfg.QueryTimeout, err)
	case stderrors.Is(err, context.Canceled):
		return apperrors.NewContextCancelled(operation, err)
	case isConnectivityError(err):
		return apperrors.NewGraphConnectionFailed(s.cfg.URI, err)
	default:
		return apperrors.NewGraphQueryFailed(operation, err)
	}
}

func isConnectivityError(err error) bool {
	for err != nil {
		if neo4j.IsConnectivityError(err) {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// summarizeStatement keeps error messages short: first clause of the statement
func summarizeStatement(statement string) string {
	for _, line := range strings.Split(statement, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 60 {
			line = line[:60] + "..."
		}
		return line
	}
	return "empty statement"
}

// Connector lazily creates one Store and hands the same instance to every
// caller. A failed attempt is not remembered, so the next call retries.
type Connector struct {
	cfg   StoreConfig
	mu    sync.Mutex
	store *Store
}

// NewConnector creates a connector; nothing is dialed until Connect
func NewConnector(cfg StoreConfig) *Connector {
	return &Connector{cfg: cfg}
}

// Connect returns the shared Store, connecting on first use
func (c *Connector) Connect(ctx context.Context) (*Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil {
		return c.store, nil
	}

	store, err := NewStore(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}

// Close shuts the shared Store down if it was ever opened
func (c *Connector) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	err := c.store.Close(ctx)
	c.store = nil
	return err
}
