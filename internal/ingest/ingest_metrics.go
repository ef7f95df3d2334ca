package ingest

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the ingestion loop.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	PolledTotal   prometheus.Counter
	AddedTotal    prometheus.Counter
	CoordsTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns ingest metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haven_ingest_cycles_total",
			Help: "Total ingest poll cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "haven_ingest_cycle_duration_seconds",
			Help:    "Duration of ingest poll cycles in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}),
		PolledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "haven_ingest_alerts_polled_total",
			Help: "Total raw alert candidates returned by the source.",
		}),
		AddedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "haven_ingest_alerts_added_total",
			Help: "Total new alerts committed to the store.",
		}),
		CoordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "haven_ingest_coordinates_total",
			Help: "New alerts by where their coordinates came from.",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.PolledTotal,
		m.AddedTotal,
		m.CoordsTotal,
	)

	return m
}

// Hooks returns loop Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnCycle: func(outcome string, polled, added int, seconds float64) {
			m.CyclesTotal.WithLabelValues(outcome).Inc()
			m.CycleDuration.Observe(seconds)
			m.PolledTotal.Add(float64(polled))
			m.AddedTotal.Add(float64(added))
		},
		OnCoordinates: func(source string) {
			m.CoordsTotal.WithLabelValues(source).Inc()
		},
	}
}
