package ingestion

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics owned by the corpus build. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// buildsTotal counts finished builds, partitioned by outcome:
	// "ok", "failed", or "canceled".
	buildsTotal *prometheus.CounterVec

	// buildDurationSeconds records the wall-clock duration of each build.
	buildDurationSeconds *prometheus.HistogramVec

	// batchesTotal counts embedding batches completed across all builds.
	batchesTotal prometheus.Counter

	// indexChunks is the number of chunks in the currently loaded index.
	indexChunks prometheus.Gauge
}

// NewMetrics registers the build metrics against reg. promauto.With(reg) is
// used so tests can pass an isolated registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		buildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthrag",
			Subsystem: "build",
			Name:      "total",
			Help:      "Total number of corpus builds finished, partitioned by outcome.",
		}, []string{"outcome"}),

		buildDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "healthrag",
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of corpus builds.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"outcome"}),

		batchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "healthrag",
			Subsystem: "build",
			Name:      "batches_total",
			Help:      "Total number of embedding batches completed by corpus builds.",
		}),

		indexChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "healthrag",
			Subsystem: "index",
			Name:      "chunks",
			Help:      "Number of chunks in the currently loaded index.",
		}),
	}
}

// SetIndexChunks records the size of the loaded index.
func (m *Metrics) SetIndexChunks(n int) {
	if m == nil {
		return
	}
	m.indexChunks.Set(float64(n))
}

func (m *Metrics) observeBuild(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.buildsTotal.WithLabelValues(outcome).Inc()
	m.buildDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) batchDone() {
	if m == nil {
		return
	}
	m.batchesTotal.Inc()
}
