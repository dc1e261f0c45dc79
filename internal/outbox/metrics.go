package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for side-effect delivery.
type Metrics struct {
	TasksProcessed *prometheus.CounterVec
	QueueSize      prometheus.Gauge
	TaskDuration   *prometheus.HistogramVec
	TaskRetries    *prometheus.CounterVec
	TasksCleanedUp prometheus.Counter
	RateLimitWaits prometheus.Counter
}

// NewMetrics registers the outbox metrics with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_tasks_processed_total",
				Help:      "Total number of side-effect tasks processed",
			},
			[]string{"task_type", "result"},
		),

		QueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outbox_queue_size",
				Help:      "Current number of pending side-effect tasks",
			},
		),

		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "outbox_task_duration_seconds",
				Help:      "Time to run a side-effect task",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 10},
			},
			[]string{"task_type"},
		),

		TaskRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_task_retries_total",
				Help:      "Total number of rescheduled side-effect tasks",
			},
			[]string{"task_type"},
		),

		TasksCleanedUp: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_tasks_cleaned_up_total",
				Help:      "Total number of finished tasks removed",
			},
		),

		RateLimitWaits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_rate_limit_waits_total",
				Help:      "Total number of rate limit waits",
			},
		),
	}
}

func (m *Metrics) incProcessed(taskType, result string) {
	if m != nil {
		m.TasksProcessed.WithLabelValues(taskType, result).Inc()
	}
}

func (m *Metrics) setQueueSize(n int64) {
	if m != nil {
		m.QueueSize.Set(float64(n))
	}
}

func (m *Metrics) observeDuration(taskType string, seconds float64) {
	if m != nil {
		m.TaskDuration.WithLabelValues(taskType).Observe(seconds)
	}
}

func (m *Metrics) incRetries(taskType string) {
	if m != nil {
		m.TaskRetries.WithLabelValues(taskType).Inc()
	}
}

func (m *Metrics) incCleanedUp(n int64) {
	if m != nil {
		m.TasksCleanedUp.Add(float64(n))
	}
}

func (m *Metrics) incRateLimitWaits() {
	if m != nil {
		m.RateLimitWaits.Inc()
	}
}
