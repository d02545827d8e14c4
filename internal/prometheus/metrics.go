package prometheus

import "github.com/prometheus/client_golang/prometheus"

const (
	tickDurationBucketStart  = 0.05
	tickDurationBucketFactor = 2.0
	tickDurationBucketCount  = 12
)

const (
	dialLatencyBucketStart  = 0.1
	dialLatencyBucketFactor = 2.0
	dialLatencyBucketCount  = 10
)

var TickDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "scheduler_tick_duration_seconds",
		Help: "Time taken to run a full scheduler tick",
		Buckets: prometheus.ExponentialBuckets(
			tickDurationBucketStart,
			tickDurationBucketFactor,
			tickDurationBucketCount,
		),
	},
)

var DialLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "call_initiation_duration_seconds",
		Help: "Time taken to initiate an outbound call",
		Buckets: prometheus.ExponentialBuckets(
			dialLatencyBucketStart,
			dialLatencyBucketFactor,
			dialLatencyBucketCount,
		),
	},
)

var CallsInitiated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "calls_initiated_total",
		Help: "Outbound calls initiated, labeled by dial target",
	},
	[]string{"target"},
)

var ReservationsLost = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "reservations_lost_total",
		Help: "Dial reservations that lost the race to a concurrent claim",
	},
)

var ReminderTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reminder_transitions_total",
		Help: "Reminder status transitions, labeled by destination status",
	},
	[]string{"to_status"},
)

var RecordingsArchived = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "recordings_archived_total",
		Help: "Call recordings copied into object storage",
	},
)

func init() {
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(DialLatency)
	prometheus.MustRegister(CallsInitiated)
	prometheus.MustRegister(ReservationsLost)
	prometheus.MustRegister(ReminderTransitions)
	prometheus.MustRegister(RecordingsArchived)
}
