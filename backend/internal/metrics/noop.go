package metrics

import "context"

// NoopCollector discards everything. Used by tests and the CLI.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordQuery(ctx context.Context, operation string, status string, durationMs int64) {
}

func (n *NoopCollector) RecordEmbedding(ctx context.Context, status string, texts int, durationMs int64) {
}

func (n *NoopCollector) RecordCacheLookup(ctx context.Context, result string) {}

func (n *NoopCollector) RecordTopicDecision(ctx context.Context, confidence string, continuation bool) {
}

func (n *NoopCollector) RecordTopicChange(ctx context.Context) {}

func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {}
