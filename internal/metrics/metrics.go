// Package metrics exposes Prometheus collectors for the delivery engine,
// the simulated network and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "causalchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "causalchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Engine metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "causalchat_messages_sent_total",
			Help: "Total messages sent",
		},
	)

	MessagesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "causalchat_messages_enqueued_total",
			Help: "Total messages placed in a receiver's pending buffer",
		},
		[]string{"process"},
	)

	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "causalchat_messages_delivered_total",
			Help: "Total messages delivered to the application",
		},
		[]string{"process"},
	)

	PendingMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "causalchat_pending_messages",
			Help: "Messages waiting for their causal dependencies",
		},
		[]string{"process"},
	)

	DeliveryPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "causalchat_delivery_passes_total",
			Help: "Total buffer scans performed while reaching a delivery fixpoint",
		},
	)

	DeliveryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "causalchat_delivery_latency_seconds",
			Help:    "Time from send to delivery",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
	)

	SessionResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "causalchat_session_resets_total",
			Help: "Total session resets",
		},
	)

	// Network metrics
	NetworkDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "causalchat_network_delay_seconds",
			Help:    "Simulated network delay applied to each copy of a message",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2},
		},
	)

	StaleDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "causalchat_stale_messages_discarded_total",
			Help: "In-flight messages dropped because their session was reset",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "causalchat_events_dropped_total",
			Help: "Engine events discarded because a subscriber fell behind",
		},
	)

	IndexedDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "causalchat_search_documents",
			Help: "Delivered messages currently held in the search index",
		},
	)

	SearchQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "causalchat_search_queries_total",
			Help: "Total history search queries",
		},
	)
)
