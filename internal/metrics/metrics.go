// ABOUTME: Prometheus metric definitions for the wirechat gateway
// ABOUTME: Counters and gauges are registered via promauto at package init

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wirechat_connections_active",
			Help: "Currently registered websocket connections",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirechat_events_received_total",
			Help: "Total inbound socket events by name",
		},
		[]string{"event"},
	)

	// Messaging metrics
	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wirechat_messages_delivered_total",
			Help: "Total message deliveries to room members",
		},
	)

	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wirechat_messages_persisted_total",
			Help: "Total messages written to the store",
		},
	)

	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wirechat_sessions_created_total",
			Help: "Total chat sessions created",
		},
	)

	// Enrichment metrics
	EnrichmentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirechat_enrichment_requests_total",
			Help: "Total enrichment requests by capability",
		},
		[]string{"capability"},
	)

	EnrichmentFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirechat_enrichment_fallbacks_total",
			Help: "Total enrichment requests served by the local fallback",
		},
		[]string{"capability"},
	)

	EnrichmentLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wirechat_enrichment_latency_seconds",
			Help:    "Enrichment backend call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirechat_rate_limit_hits_total",
			Help: "Total inbound events dropped by the per-connection rate limiter",
		},
		[]string{"event"},
	)
)
