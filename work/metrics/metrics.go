package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OpenLiveStreams tracks the number of live-stream sessions currently held in
// the session table. This metric is a gauge; it rises on open and falls on
// close or shutdown.
var OpenLiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kmedia_open_live_streams",
	Help: "Number of open live stream sessions",
})

// LiveStreamOpens counts live-stream open attempts per provider. The "result"
// label distinguishes success from failure; this metric only increases.
var LiveStreamOpens = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kmedia_live_stream_opens_total",
	Help: "Total live stream open attempts",
}, []string{"provider", "result"})

// LiveStreamCloses counts live-stream close operations per provider and close
// outcome (closed, not_supported, failed, untracked).
var LiveStreamCloses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kmedia_live_stream_closes_total",
	Help: "Total live stream close operations",
}, []string{"provider", "outcome"})

// ProviderListFailures counts dynamic-source listing calls that failed and
// were absorbed. A rising rate here degrades aggregation quality silently, so
// it is the first thing to alert on.
var ProviderListFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kmedia_provider_list_failures_total",
	Help: "Number of absorbed provider listing failures",
}, []string{"provider"})

// ResolveDuration observes end-to-end latency of playback-source resolution,
// including the provider fan-out and any triggered metadata refresh.
var ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "kmedia_resolve_duration_seconds",
	Help:    "Duration of playback source resolution",
	Buckets: prometheus.DefBuckets,
})

// MetadataRefreshes counts one-shot metadata refresh cycles triggered by a
// static source arriving without probed stream info.
var MetadataRefreshes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kmedia_metadata_refreshes_total",
	Help: "Number of triggered metadata refresh cycles",
})

// ProbeRuns counts media-info probe executions. The "result" label separates
// success, failure and cache hits.
var ProbeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kmedia_probe_runs_total",
	Help: "Number of media probe executions",
}, []string{"result"})
