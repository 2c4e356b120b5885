package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatches counts scheduled sends handed to the dispatcher.
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winkdrops_dispatches_total",
			Help: "Scheduled sends dispatched, by recurrence rule and result",
		},
		[]string{"rule", "result"}, // result: ok, error
	)

	// ScheduledSends is the size of the pending set after the last mutation.
	ScheduledSends = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "winkdrops_scheduled_sends",
			Help: "Number of pending scheduled sends",
		},
	)

	// PersistFailures counts failed writes to the key-value store.
	PersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winkdrops_persist_failures_total",
			Help: "Failed key-value writes, by key",
		},
		[]string{"key"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "winkdrops_scan_tick_duration_seconds",
			Help:    "Duration of one due-item scan",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Alerts counts presentation attempts by category and result
	// (shown, suppressed_setting, suppressed_permission, dropped, failed, deduped).
	Alerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winkdrops_alerts_total",
			Help: "Local alert presentation attempts",
		},
		[]string{"category", "result"},
	)

	AlertQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "winkdrops_alert_queue_depth",
			Help: "Alerts waiting for a worker",
		},
	)

	// BusDropped counts events a full subscriber channel did not take.
	BusDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winkdrops_bus_dropped_total",
			Help: "Event bus deliveries dropped, by event type",
		},
		[]string{"type"},
	)

	// Restarts counts supervised goroutines restarted after an error or panic.
	Restarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winkdrops_goroutine_restarts_total",
			Help: "Supervised goroutine restarts, by name",
		},
		[]string{"name"},
	)

	// SubscribeAttempts counts explicit subscribe actions by outcome.
	SubscribeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winkdrops_subscribe_attempts_total",
			Help: "Push subscribe attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// PermissionState is 1 for the current controller state label, 0 otherwise.
	PermissionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "winkdrops_permission_state",
			Help: "Current notification permission state",
		},
		[]string{"state"},
	)
)

// SetPermissionState flips the state gauge so exactly one label reads 1.
func SetPermissionState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		PermissionState.WithLabelValues(s).Set(v)
	}
}
