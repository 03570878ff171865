package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stackqa-memory/backend/internal/metrics"
	apperrors "stackqa-memory/backend/pkg/errors"
	"stackqa-memory/backend/pkg/logger"
)

// Querier runs parameterized statements. *Store implements it; tests use fakes.
type Querier interface {
	Query(ctx context.Context, statement string, params map[string]any) ([]Record, error)
	QueryRead(ctx context.Context, statement string, params map[string]any) ([]Record, error)
}

// Repository handles every conversation graph operation
type Repository struct {
	store   Querier
	metrics metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// NewRepository creates a new conversation repository
func NewRepository(store Querier, collector metrics.Collector) *Repository {
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &Repository{
		store:   store,
		metrics: collector,
		logger:  logger.Get(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

func (r *Repository) write(ctx context.Context, operation, statement string, params map[string]any) ([]Record, error) {
	start := time.Now()
	records, err := r.store.Query(ctx, statement, params)
	r.observe(ctx, operation, start, err)
	return records, err
}

func (r *Repository) read(ctx context.Context, operation, statement string, params map[string]any) ([]Record, error) {
	start := time.Now()
	records, err := r.store.QueryRead(ctx, statement, params)
	r.observe(ctx, operation, start, err)
	return records, err
}

func (r *Repository) observe(ctx context.Context, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		r.metrics.RecordQuery(ctx, operation, "error", elapsed)
		r.metrics.RecordError(ctx, operation, string(apperrors.TypeOf(err)))
		r.logger.Warn("Graph query failed",
			zap.String("operation", operation),
			zap.Int64("duration_ms", elapsed),
			zap.Error(err),
		)
		return
	}
	r.metrics.RecordQuery(ctx, operation, "success", elapsed)
}

func requireID(field, value string) error {
	if value == "" {
		return apperrors.NewValidationFailed(field, "must not be empty")
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
