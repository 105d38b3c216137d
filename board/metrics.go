package board

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts board activity. A nil *Metrics records nothing.
type Metrics struct {
	mutations       *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	remoteUpdates   prometheus.Counter
	sessions        prometheus.Gauge
}

// NewMetrics registers the board collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "projex",
			Subsystem: "board",
			Name:      "mutations_total",
			Help:      "Board intents processed, by operation and result.",
		}, []string{"op", "result"}),
		persistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "projex",
			Subsystem: "board",
			Name:      "persist_failures_total",
			Help:      "Failed writes to the document store, by document.",
		}, []string{"document"}),
		remoteUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: "projex",
			Subsystem: "board",
			Name:      "remote_updates_total",
			Help:      "Board snapshots applied from the store subscription.",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "projex",
			Subsystem: "board",
			Name:      "open_sessions",
			Help:      "Board sessions currently open.",
		}),
	}
}

func (m *Metrics) mutation(op, result string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) persistFailed(document string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(document).Inc()
}

func (m *Metrics) remoteUpdate() {
	if m == nil {
		return
	}
	m.remoteUpdates.Inc()
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}
