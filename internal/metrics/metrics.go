// Package metrics provides Prometheus collectors for the alert pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "infra_alert"

var (
	// AlertsIngested counts every alert that reached the filter, by level.
	AlertsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_ingested_total",
			Help:      "Alerts recorded into history",
		},
		[]string{"level"},
	)

	// AlertsSuppressed counts alerts rejected by the filter, by reason (level, cooldown).
	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_suppressed_total",
			Help:      "Alerts rejected by the severity or cooldown gate",
		},
		[]string{"reason"},
	)

	// Flushes counts notifications handed to the dispatcher, by path (single, group).
	Flushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "flushes_total",
			Help:      "Notifications handed to the dispatcher",
		},
		[]string{"path"},
	)

	PendingGrouped = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "grouped_pending",
			Help:      "Alerts waiting in groups for the next flush",
		},
	)

	HistorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "records",
			Help:      "Records currently held in alert history",
		},
	)
)

var (
	// Deliveries counts per-recipient delivery attempts, by result (ok, error).
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery attempts",
		},
		[]string{"result"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "delivery_duration_seconds",
			Help:      "Time to deliver one notification to all recipients",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

var (
	// Ticks counts scheduler ticks, by trigger (metrics, critical) and result (ok, skipped, panic).
	Ticks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	SourceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "errors_total",
			Help:      "Snapshot polls that failed or timed out",
		},
	)
)
