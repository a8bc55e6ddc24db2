// Package metrics defines the prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyroom",
		Name:      "notifications_total",
		Help:      "Notification attempts by event type, channel and outcome.",
	}, []string{"event_type", "channel", "status"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "studyroom",
		Name:      "provider_send_seconds",
		Help:      "Latency of outbound provider sends.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"channel"})

	AttendanceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyroom",
		Name:      "attendance_events_total",
		Help:      "Committed attendance transitions.",
	}, []string{"event"})

	SecondaryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyroom",
		Name:      "secondary_effect_failures_total",
		Help:      "Best-effort steps that failed after the primary write.",
	}, []string{"step"})

	QueueItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studyroom",
		Name:      "queue_items_total",
		Help:      "Deferred notification queue transitions.",
	}, []string{"status"})
)
