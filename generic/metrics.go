package generic

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics are the Manager's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lockWait *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reservation",
			Name:      "attempts_total",
			Help:      "Commit attempts by operation and terminal state.",
		}, []string{"op", "state"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reservation",
			Name:      "attempt_seconds",
			Help:      "Wall time of a commit attempt, lock wait included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		lockWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reservation",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-resource lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"op"}),
	}
}

func (m *Metrics) observeAttempt(op string, state State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(op, state.String()).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) observeLockWait(op string, waited time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(op).Observe(waited.Seconds())
}

// Count returns the attempts recorded for op in state. Used by tests.
func (m *Metrics) Count(op string, state State) float64 {
	if m == nil {
		return 0
	}
	c, err := m.attempts.GetMetricWithLabelValues(op, state.String())
	if err != nil {
		return 0
	}
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}
