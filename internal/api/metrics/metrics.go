// Package metrics defines and registers all custom Prometheus metrics for the
// order tracking service. It is the single source of truth for metric names,
// labels, and help strings.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tracking"

// ── Session metrics ───────────────────────────────────────────────────────────

// SessionsActive tracks the number of live tracking sessions in the registry.
var SessionsActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Current number of in-memory tracking sessions.",
	},
)

// SubscribersActive tracks the number of connected subscriber channels across
// all sessions.
var SubscribersActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscribers_active",
		Help:      "Current number of connected tracking subscribers.",
	},
)

// SessionsEvictedTotal counts sessions removed by the garbage collector.
// Label:
//   - reason: "terminal" or "idle"
var SessionsEvictedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_evicted_total",
		Help:      "Total number of tracking sessions evicted, by reason.",
	},
	[]string{"reason"},
)

// ── Event metrics ─────────────────────────────────────────────────────────────

// EventsPublishedTotal counts events fanned out to subscribers.
// Label:
//   - type: "snapshot", "status_update", or "location_update"
var EventsPublishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total number of tracking events published, by event type.",
	},
	[]string{"type"},
)

// WritesRejectedTotal counts privileged writes rejected by validation.
// Label:
//   - reason: "invalid_transition" or "not_trackable"
//
// Writes against unknown orders fail on the store lookup before reaching
// validation, so they surface as 404s rather than here.
var WritesRejectedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "writes_rejected_total",
		Help:      "Total number of status/location writes rejected, by reason.",
	},
	[]string{"reason"},
)

// StaleSamplesTotal counts location samples dropped for carrying a timestamp
// not newer than the cached one. These are expected under retries and are not
// surfaced to the writer.
var StaleSamplesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_samples_total",
		Help:      "Total number of location samples silently dropped as stale.",
	},
)

// ChannelOverrunsTotal counts subscriber connections closed because their
// outbound queue filled up.
var ChannelOverrunsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_overruns_total",
		Help:      "Total number of subscribers dropped for not keeping up.",
	},
)

// PublishDuration measures a publish operation end-to-end: validation,
// persistence, and fanout.
// Label:
//   - type: "status" or "location"
var PublishDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "publish_duration_seconds",
		Help:      "Duration of publish operations from validation to fanout.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"type"},
)
