// Package metrics holds the Prometheus collectors updated by the forwarder
// and exposed by the status server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts finished cycles by result (success, failure).
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imap2smtp_cycles_total",
			Help: "Total number of forward cycles by result",
		},
		[]string{"result"},
	)

	// CycleDuration tracks how long one cycle takes end to end.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imap2smtp_cycle_duration_seconds",
			Help:    "Duration of forward cycles",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// MessagesTotal counts per-message results: delivered, temporary,
	// permanent, skipped.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imap2smtp_messages_total",
			Help: "Total number of processed messages by outcome",
		},
		[]string{"outcome"},
	)

	// PostProcessErrors counts failed mailbox mutations by action.
	PostProcessErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imap2smtp_postprocess_errors_total",
			Help: "Total number of failed mark-seen or move operations",
		},
		[]string{"action"},
	)

	// LastCycleTimestamp is the Unix time the last cycle finished.
	LastCycleTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imap2smtp_last_cycle_timestamp_seconds",
			Help: "Unix timestamp of the last finished cycle by result",
		},
		[]string{"result"},
	)

	// NextCycleDelay is the wait computed after the last cycle.
	NextCycleDelay = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imap2smtp_next_cycle_delay_seconds",
			Help: "Delay before the next cycle as computed by the scheduler",
		},
	)
)
