// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wabot"

var (
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound messages processed, by routed intent",
		},
		[]string{"intent"},
	)

	DuplicateDeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_deliveries_total",
			Help:      "Inbound provider deliveries acknowledged without reprocessing",
		},
	)

	StaffCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staff_commands_total",
			Help:      "Staff command attempts",
		},
		[]string{"command", "success"},
	)

	// result is one of created, duplicate, failed.
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Upload reconciliations by outcome",
		},
		[]string{"result"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Staff notification sends by result",
		},
		[]string{"result"},
	)

	OutboundSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_sends_total",
			Help:      "Outbound chat sends by result",
		},
		[]string{"result"},
	)

	ProcessSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_seconds",
			Help:      "End-to-end inbound message processing time",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbound_queue_depth",
			Help:      "Inbound messages waiting for a worker",
		},
	)
)

// ObserveCommand counts one staff command attempt.
func ObserveCommand(command string, success bool) {
	StaffCommandsTotal.WithLabelValues(command, strconv.FormatBool(success)).Inc()
}

// ObserveProcess records processing time since start.
func ObserveProcess(start time.Time) {
	ProcessSeconds.Observe(time.Since(start).Seconds())
}

// Result label values.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultCreated = "created"
	ResultDup     = "duplicate"
)
