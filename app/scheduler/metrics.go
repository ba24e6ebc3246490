package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "massdispatch"

var (
	// Scheduler ticks partitioned by outcome (ok, skipped, error)
	schedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scheduler_ticks_total",
			Help:      "Total number of scheduler ticks",
		},
		[]string{"outcome"},
	)

	schedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Duration of a full scheduler tick in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
	)

	// Recipient and legacy deliveries partitioned by kind and final status
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_messages_total",
			Help:      "Total number of messages handed to the gateway, by recipient kind and outcome",
		},
		[]string{"kind", "status"},
	)

	// Recipients failed without a send because their batch failed
	deliveriesSettledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_recipients_settled_total",
			Help:      "Total number of pending recipients marked failed because their batch failed",
		},
	)

	// Batches that reached a terminal status
	batchesFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_batches_finished_total",
			Help:      "Total number of mass-message batches that reached a terminal status",
		},
		[]string{"status"},
	)

	batchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_batches_inflight",
			Help:      "Number of mass-message batches currently being delivered by this process",
		},
	)
)
