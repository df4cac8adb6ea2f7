package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors register themselves on the default registry through promauto.
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	BookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_created_total",
			Help: "Committed bookings by kind",
		},
		[]string{"kind"},
	)

	BookingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_failed_total",
			Help: "Rejected booking attempts by error kind",
		},
		[]string{"reason"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_status_transitions_total",
			Help: "Applied status transitions",
		},
		[]string{"from", "to"},
	)

	ConcurrencyRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookings_concurrency_retries_total",
			Help: "Transactions retried after a serialization failure or deadlock",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookings_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookings_outbox_lag_seconds",
			Help: "Age of the oldest outbox record published in the last batch",
		},
	)

	RabbitPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookings_rabbit_publish_failures_total",
			Help: "Outbox records that failed to publish",
		},
	)

	OutboxParked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookings_outbox_parked_total",
			Help: "Outbox records parked as FAILED after repeated publish failures",
		},
	)

		RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookings_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
