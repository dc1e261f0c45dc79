package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every studiobook metric.
const Namespace = "studiobook"

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "booking_created_total",
			Help:      "Count of bookings created by service type.",
		},
		[]string{"service_type"},
	)

	bookingTransition = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "booking_transition_total",
			Help:      "Count of lifecycle actions by outcome.",
		},
		[]string{"action", "result"},
	)

	slotConflict = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "slot_conflict_total",
			Help:      "Count of booking attempts rejected because the slot was taken.",
		},
	)

	syncWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sync_warning_total",
			Help:      "Count of side effects that failed on the first attempt.",
		},
		[]string{"effect"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingCreated, bookingTransition, slotConflict, syncWarnings, httpRequests)
	})
}

func IncBookingCreated(serviceType string) {
	bookingCreated.WithLabelValues(serviceType).Inc()
}

func IncTransition(action, result string) {
	bookingTransition.WithLabelValues(action, result).Inc()
}

func IncSlotConflict() {
	slotConflict.Inc()
}

func IncSyncWarning(effect string) {
	syncWarnings.WithLabelValues(effect).Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
