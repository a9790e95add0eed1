// Package metrics provides Prometheus metrics definitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "statuspage"

var (
	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status_code"},
	)

	// BackendRequestDuration tracks latency of calls to the status page backend.
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Backend API request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status_code"},
	)

	// BackendCacheRequests counts cached reads by outcome.
	BackendCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "cache_requests_total",
			Help:      "Backend read cache lookups by result",
		},
		[]string{"endpoint", "result"},
	)

	// ViewLoads counts view resolutions by route and result.
	// result is one of: eager, loaded, cached, failed.
	ViewLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "views",
			Name:      "loads_total",
			Help:      "View loads by route name and result",
		},
		[]string{"route", "result"},
	)

	// FeedClients tracks connected live feed clients.
	FeedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Number of connected live feed clients",
		},
	)

	// FeedChanges counts detected status changes by kind.
	FeedChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "changes_total",
			Help:      "Detected status changes by kind",
		},
		[]string{"kind"},
	)

	// NotificationsSent counts notification attempts by channel and status.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Notifications processed by channel and status",
		},
		[]string{"channel", "status"},
	)
)
