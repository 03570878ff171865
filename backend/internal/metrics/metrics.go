package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the interface for metrics collection.
type Collector interface {
	RecordQuery(ctx context.Context, operation string, status string, durationMs int64)
	RecordEmbedding(ctx context.Context, status string, texts int, durationMs int64)
	RecordCacheLookup(ctx context.Context, result string)
	RecordTopicDecision(ctx context.Context, confidence string, continuation bool)
	RecordTopicChange(ctx context.Context)
	RecordError(ctx context.Context, operation string, errorType string)
}

// PrometheusCollector provides Prometheus metrics for the memory engine
type PrometheusCollector struct {
	queriesTotal      *prometheus.CounterVec
	queryDuration     *prometheus.HistogramVec
	embeddingsTotal   *prometheus.CounterVec
	embeddingDuration prometheus.Histogram
	embeddedTexts     prometheus.Counter
	cacheLookups      *prometheus.CounterVec
	topicDecisions    *prometheus.CounterVec
	topicChanges      prometheus.Counter
	errorsTotal       *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewCollector creates a new Prometheus metrics collector on its own registry
func NewCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	c := &PrometheusCollector{
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackqa_graph_queries_total",
				Help: "Graph store queries by repository operation and status",
			},
			[]string{"operation", "status"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stackqa_graph_query_duration_seconds",
				Help:    "Graph store query latency by repository operation",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation"},
		),
		embeddingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackqa_embedding_requests_total",
				Help: "Embedding endpoint requests by status",
			},
			[]string{"status"},
		),
		embeddingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stackqa_embedding_duration_seconds",
				Help:    "Embedding endpoint latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),
		embeddedTexts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stackqa_embedded_texts_total",
				Help: "Texts sent to the embedding endpoint",
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackqa_embedding_cache_lookups_total",
				Help: "Embedding cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		topicDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackqa_topic_decisions_total",
				Help: "Topic similarity classifications by confidence",
			},
			[]string{"confidence", "continuation"},
		),
		topicChanges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stackqa_topic_changes_total",
				Help: "Session topics overwritten after drift",
			},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stackqa_errors_total",
				Help: "Errors by operation and error type",
			},
			[]string{"operation", "error_type"},
		),
		registry: registry,
	}

	registry.MustRegister(
		c.queriesTotal,
		c.queryDuration,
		c.embeddingsTotal,
		c.embeddingDuration,
		c.embeddedTexts,
		c.cacheLookups,
		c.topicDecisions,
		c.topicChanges,
		c.errorsTotal,
	)

	return c
}

// RecordQuery records a completed graph query
func (m *PrometheusCollector) RecordQuery(ctx context.Context, operation string, status string, durationMs int64) {
	m.queriesTotal.WithLabelValues(operation, status).Inc()
	m.queryDuration.WithLabelValues(operation).Observe(float64(durationMs) / 1000.0)
}

// RecordEmbedding records one call to the embedding endpoint
func (m *PrometheusCollector) RecordEmbedding(ctx context.Context, status string, texts int, durationMs int64) {
	m.embeddingsTotal.WithLabelValues(status).Inc()
	m.embeddingDuration.Observe(float64(durationMs) / 1000.0)
	m.embeddedTexts.Add(float64(texts))
}

// RecordCacheLookup records an embedding cache lookup
func (m *PrometheusCollector) RecordCacheLookup(ctx context.Context, result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordTopicDecision records a similarity classification
func (m *PrometheusCollector) RecordTopicDecision(ctx context.Context, confidence string, continuation bool) {
	label := "false"
	if continuation {
		label = "true"
	}
	m.topicDecisions.WithLabelValues(confidence, label).Inc()
}

// RecordTopicChange records a committed topic overwrite
func (m *PrometheusCollector) RecordTopicChange(ctx context.Context) {
	m.topicChanges.Inc()
}

// RecordError records an error occurrence
func (m *PrometheusCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// Registry returns the Prometheus registry for HTTP exposure
func (m *PrometheusCollector) Registry() *prometheus.Registry {
	return m.registry
}
