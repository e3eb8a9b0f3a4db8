package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stay_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stay_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stay_outbox_lag_seconds",
			Help: "Age of the oldest event relayed in the last outbox batch",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stay_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stay_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	BookingConfirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stay_booking_confirmations_total",
			Help: "Payment confirmations by outcome",
		},
		[]string{"result"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stay_booking_transitions_total",
			Help: "Successful booking status transitions by target status",
		},
		[]string{"status"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stay_payment_gateway_seconds",
			Help:    "Latency of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	RefundsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stay_refunds_total",
			Help: "Refunds requested from the payment gateway by outcome",
		},
		[]string{"result"},
	)
)
