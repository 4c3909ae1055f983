// Package metrics exposes Prometheus instrumentation for the replay
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts session objects created by the manager,
	// labelled by session type.
	SessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_sessions_created_total",
		Help: "Sessions created by the session manager.",
	}, []string{"session_type"})

	// CacheHits and CacheMisses count replay cache lookups.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_cache_hits_total",
		Help: "Session loads served from the replay cache.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_cache_misses_total",
		Help: "Session loads that went to the telemetry provider.",
	})

	// LoadDuration tracks end-to-end session load time in seconds.
	LoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replay_load_duration_seconds",
		Help:    "End-to-end session load duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"source"})

	// LoadFailures counts failed session loads.
	LoadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_load_failures_total",
		Help: "Session loads that ended in the error state.",
	})

	// ActiveStreams gauges open websocket playback connections.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_active_streams",
		Help: "Open websocket playback connections.",
	})

	// FramesSent counts binary frames written to websocket clients.
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_frames_sent_total",
		Help: "Binary frames sent over websocket connections.",
	})
)
