package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported by the pipeline and search paths.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	runs               *prometheus.CounterVec
	stageSeconds       *prometheus.HistogramVec
	enrichmentFailures *prometheus.CounterVec
	searches           *prometheus.CounterVec
	embeddingCacheHits prometheus.Counter
	embeddingCacheMiss prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clipscout",
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by terminal outcome.",
		}, []string{"outcome"}),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clipscout",
			Name:      "pipeline_stage_seconds",
			Help:      "Wall time spent per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"stage"}),
		enrichmentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clipscout",
			Name:      "enrichment_failures_total",
			Help:      "Absorbed transcription and embedding failures.",
		}, []string{"kind"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clipscout",
			Name:      "searches_total",
			Help:      "Searches by scoring mode.",
		}, []string{"mode"}),
		embeddingCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clipscout",
			Name:      "embedding_cache_hits_total",
			Help:      "Embedding lookups served from the local cache.",
		}),
		embeddingCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clipscout",
			Name:      "embedding_cache_misses_total",
			Help:      "Embedding lookups forwarded to the backend.",
		}),
	}
	reg.MustRegister(
		m.runs,
		m.stageSeconds,
		m.enrichmentFailures,
		m.searches,
		m.embeddingCacheHits,
		m.embeddingCacheMiss,
	)
	return m
}

func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) EnrichmentFailed(kind string) {
	if m == nil {
		return
	}
	m.enrichmentFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Searched(mode string) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(mode).Inc()
}

func (m *Metrics) EmbeddingCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.embeddingCacheHits.Inc()
		return
	}
	m.embeddingCacheMiss.Inc()
}
