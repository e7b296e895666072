package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SweepsTotal tracks sweep outcomes per tracked set.
	// status: completed, empty, error, data_loss, cursor_conflict
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_sweeps_total",
		Help: "Total number of change-log sweeps executed",
	}, []string{"status", "tracked_set"})

	// SweepDuration measures a full sweep cycle: read, correlate,
	// materialize, publish, commit.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdc_sweep_duration_seconds",
		Help:    "Duration of one sweep cycle in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// LogicalChanges tracks the number of correlated changes per sweep.
	LogicalChanges = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdc_logical_changes_per_sweep",
		Help:    "Number of logical changes correlated per sweep",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
	})

	// EventsEmitted counts published events per action.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_events_emitted_total",
		Help: "Domain events handed to the publisher",
	}, []string{"action", "tracked_set"})

	// EventsSuppressed counts updates suppressed because the projected
	// value hash matched the last published hash for the key.
	EventsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdc_events_suppressed_total",
		Help: "Updates suppressed by hash comparison",
	})

	// ChangesDropped counts keys created and deleted inside one window,
	// which never become externally visible.
	ChangesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdc_changes_dropped_total",
		Help: "Logical changes cancelled out within a single window",
	})

	// HealthStatus provides a binary 0/1 signal for broker connectivity.
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdc_relay_healthy",
		Help: "Current health of the relay (1 healthy, 0 unhealthy)",
	})

	// ChangeLogBacklog tracks how far the cursor trails the log head.
	ChangeLogBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdc_changelog_backlog",
		Help: "LSN distance between the cursor and the change-log head",
	})
)
