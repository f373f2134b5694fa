package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	MessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_published_total",
			Help: "Total number of messages published per backend",
		},
		[]string{"backend"},
	)

	MessagesDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_delivered_total",
			Help: "Total number of handler invocations per backend by outcome",
		},
		[]string{"backend", "outcome"}, // ok, failed
	)

	PollErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_poll_errors_total",
			Help: "Total number of receive-loop errors per backend by kind",
		},
		[]string{"backend", "kind"}, // transient, other
	)

	HandlerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queue_handler_duration_seconds",
			Help:    "Duration of message handler invocations",
			Buckets: prometheus.DefBuckets,
		},
	)
)
