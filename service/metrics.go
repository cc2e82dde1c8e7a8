package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"polling-backend/models"
)

// Metrics exports operation outcomes and collection sizes. A nil *Metrics
// records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	topics     prometheus.Gauge
	feedbacks  prometheus.Gauge
	votes      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "polls",
				Name:      "operations_total",
				Help:      "The amount of finished operations by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "polls",
				Name:      "operation_duration_seconds",
				Help:      "The duration of operations including ledger and wallet round trips [s].",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"action"},
		),
		topics: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "polls",
				Name:      "topics",
				Help:      "The amount of topics in the last loaded state.",
			},
		),
		feedbacks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "polls",
				Name:      "feedbacks",
				Help:      "The amount of feedback entries in the last loaded state.",
			},
		),
		votes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "polls",
				Name:      "votes",
				Help:      "The sum of up and down votes over all topics.",
			},
		),
	}

	registerer.MustRegister(m.operations)
	registerer.MustRegister(m.durations)
	registerer.MustRegister(m.topics)
	registerer.MustRegister(m.feedbacks)
	registerer.MustRegister(m.votes)
	return m
}

func (m *Metrics) observe(action Action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(action), outcome).Inc()
	m.durations.WithLabelValues(string(action)).Observe(duration.Seconds())
}

func (m *Metrics) setStats(stats models.Stats) {
	if m == nil {
		return
	}
	m.topics.Set(float64(stats.TotalTopics))
	m.feedbacks.Set(float64(stats.TotalFeedbacks))
	m.votes.Set(float64(stats.TotalVotes))
}
