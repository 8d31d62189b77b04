package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the insertion engine does to the backend. All counters
// are labelled by queue name.
type Metrics struct {
	attempts *prometheus.CounterVec
	splits   *prometheus.CounterVec
	dropped  *prometheus.CounterVec
}

// NewMetrics registers the insertion engine's counters with reg. Passing
// prometheus.DefaultRegisterer wires them into the default exposition.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deferred_insert_attempts_total",
			Help: "Backend insertion calls made, including split retries.",
		}, []string{"queue"}),
		splits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deferred_insert_splits_total",
			Help: "Batches split in half after a transient backend failure.",
		}, []string{"queue"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deferred_insert_dropped_tasks_total",
			Help: "Single tasks dropped after failing transiently at depth.",
		}, []string{"queue"}),
	}
}

func (m *Metrics) observeAttempt(queueName string) {
	if m != nil {
		m.attempts.WithLabelValues(queueName).Inc()
	}
}

func (m *Metrics) observeSplit(queueName string) {
	if m != nil {
		m.splits.WithLabelValues(queueName).Inc()
	}
}

func (m *Metrics) observeDropped(queueName string) {
	if m != nil {
		m.dropped.WithLabelValues(queueName).Inc()
	}
}
