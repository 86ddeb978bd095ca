package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are shared by every controller of a process. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Submissions       *prometheus.CounterVec
	Deltas            prometheus.Counter
	InFlight          prometheus.Gauge
	RequestDuration   *prometheus.HistogramVec
	PersistenceErrors *prometheus.CounterVec
}

// NewMetrics registers the session metrics on reg. Passing nil uses the
// default prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sidekick",
				Subsystem: "session",
				Name:      "submissions_total",
				Help:      "Submissions by outcome",
			},
			[]string{"outcome"},
		),
		Deltas: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sidekick",
				Subsystem: "session",
				Name:      "deltas_received_total",
				Help:      "Stream deltas applied to a live buffer",
			},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sidekick",
				Subsystem: "session",
				Name:      "requests_in_flight",
				Help:      "Submissions currently waiting for a terminal message",
			},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sidekick",
				Subsystem: "session",
				Name:      "request_duration_seconds",
				Help:      "Time from submission to finalization",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),
		PersistenceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sidekick",
				Subsystem: "session",
				Name:      "persistence_errors_total",
				Help:      "Failed gateway operations",
			},
			[]string{"op"},
		),
	}
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) finished(outcome Outcome, streaming bool, d time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.Submissions.WithLabelValues(string(outcome)).Inc()
	mode := "non-streaming"
	if streaming {
		mode = "streaming"
	}
	m.RequestDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(reason).Inc()
}

func (m *Metrics) delta() {
	if m == nil {
		return
	}
	m.Deltas.Inc()
}

func (m *Metrics) persistenceError(op string) {
	if m == nil {
		return
	}
	m.PersistenceErrors.WithLabelValues(op).Inc()
}
