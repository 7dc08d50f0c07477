package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/visitor-cli/internal/model"
)

// Metrics exports enrichment counters and timings to Prometheus. It
// satisfies the pipeline's Observer interface. A nil *Metrics is a no-op.
type Metrics struct {
	Enrichments   *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	CostCents     prometheus.Counter
	DLQDepth      prometheus.Gauge
	EnrichedRate  prometheus.Gauge
}

// NewMetrics registers the enrichment metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Enrichments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visitor_enrichments_total",
				Help: "Enrichment runs by terminal status.",
			},
			[]string{"status"},
		),
		PhaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "visitor_phase_duration_seconds",
				Help:    "Duration of each pipeline phase.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
			[]string{"phase"},
		),
		CostCents: f.NewCounter(prometheus.CounterOpts{
			Name: "visitor_enrichment_cost_cents_total",
			Help: "Accumulated third-party API cost in cents.",
		}),
		DLQDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "visitor_dlq_depth",
			Help: "Visits waiting in the dead letter queue.",
		}),
		EnrichedRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "visitor_enriched_rate",
			Help: "Share of persisted leads reaching enriched within the lookback window.",
		}),
	}
}

// ObservePhase records the duration of one pipeline phase.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveResult records the outcome of one enrichment run.
func (m *Metrics) ObserveResult(r *model.EnrichmentResult) {
	if m == nil || r == nil {
		return
	}
	m.Enrichments.WithLabelValues(string(r.Status)).Inc()
	if r.CostCents > 0 {
		m.CostCents.Add(float64(r.CostCents))
	}
}

// SetSnapshot refreshes the gauges from a collected snapshot.
func (m *Metrics) SetSnapshot(snap *MetricsSnapshot) {
	if m == nil || snap == nil {
		return
	}
	m.DLQDepth.Set(float64(snap.DLQDepth))
	m.EnrichedRate.Set(snap.EnrichedRate)
}
