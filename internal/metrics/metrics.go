package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gaia"

var (
	once sync.Once

	reservationCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_create_total",
			Help:      "Reservation create attempts by result.",
		},
		[]string{"result"},
	)

	reservationTransition = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transition_total",
			Help:      "Status transitions by action, actor role and result.",
		},
		[]string{"action", "role", "result"},
	)

	blockCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocked_slot_created_total",
			Help:      "Count of administrative blocks created.",
		},
	)

	storeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of reservation store operations.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"op"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by sink and status.",
		},
		[]string{"sink", "status"},
	)

	notificationRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_retries_total",
			Help:      "Total number of notification retry attempts.",
		},
	)

	notificationQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_queue_size",
			Help:      "Events waiting for delivery.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code class.",
		},
		[]string{"route", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservationCreated,
			reservationTransition,
			blockCreated,
			storeDuration,
			notificationsSent,
			notificationRetries,
			notificationQueue,
			httpRequests,
		)
	})
}

func IncReservationCreated(result string) {
	reservationCreated.WithLabelValues(result).Inc()
}

func IncTransition(action, role, result string) {
	reservationTransition.WithLabelValues(action, role, result).Inc()
}

func IncBlockCreated() {
	blockCreated.Inc()
}

// ObserveStore records the time since start for op.
func ObserveStore(op string, start time.Time) {
	storeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func IncNotification(sink, status string) {
	notificationsSent.WithLabelValues(sink, status).Inc()
}

func IncNotificationRetry() {
	notificationRetries.Inc()
}

func SetNotificationQueue(size int) {
	notificationQueue.Set(float64(size))
}

func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}
