package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConsumerDuration tracks end-to-end latency of processing one event
	// inside the subscriber host.
	ConsumerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_processing_duration_seconds",
		Help:    "Time taken to process an event from reception to ack",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"status", "subject", "action"}) // status: success, retry, skipped, escalated

	// PoisonRetries counts deliveries re-attempted because of an
	// outstanding poison record.
	PoisonRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_poison_retries_total",
		Help: "Deliveries retried under an outstanding poison record",
	}, []string{"queue"})

	// PoisonEscalations counts events dropped after exhausting the maximum
	// delivery attempts. Growth here means silently lost events and
	// requires operator attention.
	PoisonEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_poison_escalations_total",
		Help: "Events abandoned after reaching max delivery attempts",
	}, []string{"queue"})

	// PoisonSkips counts events dropped on operator request.
	PoisonSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_poison_skips_total",
		Help: "Events skipped via the skip-processing flag",
	}, []string{"queue"})
)
