package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the entity resolution service.
// Metrics are organized by subsystem: resolution, prompts, registry,
// embedding, and events. All methods are safe to call on a nil *Metrics.
type Metrics struct {
	// RecordsProcessed counts source records pushed through the batch pipeline.
	RecordsProcessed prometheus.Counter

	// Resolutions counts resolved names by entity type and outcome
	// (blank, accepted, confirmed, merged, created, empty).
	Resolutions *prometheus.CounterVec

	// MatchScore observes the best similarity score found per resolution.
	MatchScore *prometheus.HistogramVec

	// Prompts counts human interactions by entity type and kind (confirm, disambiguate).
	Prompts *prometheus.CounterVec

	// RegistryMutations counts registry changes by event type.
	RegistryMutations *prometheus.CounterVec

	// RegistryEntities reports the number of canonical entities by type.
	RegistryEntities *prometheus.GaugeVec

	// RegistrySaves counts persistence attempts by backend and status.
	RegistrySaves *prometheus.CounterVec

	// RegistrySaveDuration observes persistence duration in seconds by backend.
	RegistrySaveDuration *prometheus.HistogramVec

	// EmbeddingRequests counts embedding model calls by provider.
	EmbeddingRequests *prometheus.CounterVec

	// EmbeddingFailures counts failed embedding model calls by provider and error type.
	EmbeddingFailures *prometheus.CounterVec

	// EmbeddingDuration observes embedding model latency in seconds by provider.
	EmbeddingDuration *prometheus.HistogramVec

	// EmbeddingCacheHits counts cache hits by tier (memory, qdrant).
	EmbeddingCacheHits *prometheus.CounterVec

	// EmbeddingCacheMisses counts lookups that reached the embedding model.
	EmbeddingCacheMisses prometheus.Counter

	// EventsPublished counts registry events handed to the publisher by type and status.
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates the service metrics and registers them with reg.
// A nil reg leaves the metrics unregistered, which is convenient in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RecordsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Total number of source records processed",
		}),
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Total number of names resolved by entity type and outcome",
		}, []string{"entity_type", "outcome"}),
		MatchScore: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_score",
			Help:      "Best cosine similarity found per resolution",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		}, []string{"entity_type"}),
		Prompts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompts_total",
			Help:      "Total number of human prompts by entity type and kind",
		}, []string{"entity_type", "kind"}),

		RegistryMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_mutations_total",
			Help:      "Total number of registry mutations by operation",
		}, []string{"operation"}),
		RegistryEntities: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_entities",
			Help:      "Number of canonical entities in the registry by type",
		}, []string{"entity_type"}),
		RegistrySaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_saves_total",
			Help:      "Total number of registry persistence attempts by backend and status",
		}, []string{"backend", "status"}),
		RegistrySaveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_save_duration_seconds",
			Help:      "Duration of registry persistence in seconds by backend",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"backend"}),

		EmbeddingRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding model requests by provider",
		}, []string{"provider"}),
		EmbeddingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_failures_total",
			Help:      "Total number of failed embedding model requests",
		}, []string{"provider", "error_type"}),
		EmbeddingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Duration of embedding model requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		EmbeddingCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Total number of embedding cache hits by tier",
		}, []string{"tier"}),
		EmbeddingCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Total number of embedding cache misses",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of registry events published by type and status",
		}, []string{"event_type", "status"}),
	}
}

// RecordRecordProcessed records one processed source record.
func (m *Metrics) RecordRecordProcessed() {
	if m == nil {
		return
	}
	m.RecordsProcessed.Inc()
}

// RecordResolution records the outcome of resolving one name. A negative
// score means no candidate was scored.
func (m *Metrics) RecordResolution(entityType, outcome string, score float64) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(entityType, outcome).Inc()
	if score >= 0 {
		m.MatchScore.WithLabelValues(entityType).Observe(score)
	}
}

// RecordPrompt records a human interaction.
func (m *Metrics) RecordPrompt(entityType, kind string) {
	if m == nil {
		return
	}
	m.Prompts.WithLabelValues(entityType, kind).Inc()
}

// RecordRegistryMutation records a registry change.
func (m *Metrics) RecordRegistryMutation(operation string) {
	if m == nil {
		return
	}
	m.RegistryMutations.WithLabelValues(operation).Inc()
}

// SetRegistrySize publishes entity counts per type.
func (m *Metrics) SetRegistrySize(counts map[string]int) {
	if m == nil {
		return
	}
	for entityType, n := range counts {
		m.RegistryEntities.WithLabelValues(entityType).Set(float64(n))
	}
}

// RecordRegistrySave records a persistence attempt.
func (m *Metrics) RecordRegistrySave(backend string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.RegistrySaves.WithLabelValues(backend, statusLabel(err)).Inc()
	m.RegistrySaveDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordEmbeddingRequest records a successful embedding model call.
func (m *Metrics) RecordEmbeddingRequest(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.WithLabelValues(provider).Inc()
	m.EmbeddingDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordEmbeddingFailure records a failed embedding model call.
func (m *Metrics) RecordEmbeddingFailure(provider, errorType string) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.WithLabelValues(provider).Inc()
	m.EmbeddingFailures.WithLabelValues(provider, errorType).Inc()
}

// RecordEmbeddingCacheHit records a cache hit in the given tier.
func (m *Metrics) RecordEmbeddingCacheHit(tier string) {
	if m == nil {
		return
	}
	m.EmbeddingCacheHits.WithLabelValues(tier).Inc()
}

// RecordEmbeddingCacheMiss records a lookup that had to call the model.
func (m *Metrics) RecordEmbeddingCacheMiss() {
	if m == nil {
		return
	}
	m.EmbeddingCacheMisses.Inc()
}

// RecordEventPublished records a publish attempt for a registry event.
func (m *Metrics) RecordEventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType, statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
