// Package metrics holds the Prometheus instruments of the indexing and
// retrieval paths.
//
// Metrics:
//   - ragindex_sync_documents_total{outcome} - documents handled by Sync (added, updated, deleted, failed)
//   - ragindex_sync_duration_seconds - wall time of Sync calls
//   - ragindex_search_duration_seconds{outcome} - wall time of retrieval searches
//   - ragindex_embedding_requests_total{outcome} - embedding provider requests (ok, error)
//   - ragindex_embedding_texts_total - texts sent to the embedding provider
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registered instruments.
type Metrics struct {
	SyncDocuments     *prometheus.CounterVec
	SyncDuration      prometheus.Histogram
	SearchDuration    *prometheus.HistogramVec
	EmbeddingRequests *prometheus.CounterVec
	EmbeddingTexts    prometheus.Counter
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncDocuments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragindex_sync_documents_total",
				Help: "Total number of documents handled by sync, by outcome",
			},
			[]string{"outcome"},
		),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragindex_sync_duration_seconds",
			Help:    "Duration of sync calls in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		SearchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragindex_search_duration_seconds",
				Help:    "Duration of retrieval searches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		EmbeddingRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragindex_embedding_requests_total",
				Help: "Total number of embedding provider requests, by outcome",
			},
			[]string{"outcome"},
		),
		EmbeddingTexts: f.NewCounter(prometheus.CounterOpts{
			Name: "ragindex_embedding_texts_total",
			Help: "Total number of texts sent to the embedding provider",
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveEmbedding records one provider request.
func (m *Metrics) ObserveEmbedding(texts int, _ time.Duration, err error) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		m.EmbeddingTexts.Add(float64(texts))
	}
}

// ObserveSync records the result of one Sync call.
func (m *Metrics) ObserveSync(added, deleted, updated, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SyncDocuments.WithLabelValues("added").Add(float64(added))
	m.SyncDocuments.WithLabelValues("deleted").Add(float64(deleted))
	m.SyncDocuments.WithLabelValues("updated").Add(float64(updated))
	m.SyncDocuments.WithLabelValues("failed").Add(float64(failed))
	m.SyncDuration.Observe(elapsed.Seconds())
}

// ObserveSearch records one retrieval search.
func (m *Metrics) ObserveSearch(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.SearchDuration.WithLabelValues(outcome(err)).Observe(elapsed.Seconds())
}
