package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// InterceptedRequests counts intercepted requests by strategy and where the response came from
	InterceptedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_cache_intercepted_requests_total",
		Help: "The number of intercepted requests by caching strategy and response source",
	}, []string{"strategy", "source"})

	// Installs counts install attempts by result
	Installs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_cache_installs_total",
		Help: "The number of cache version installs by result",
	}, []string{"result"})

	// Revalidations counts background cache refreshes by result
	Revalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_cache_revalidations_total",
		Help: "The number of background cache refreshes by result",
	}, []string{"result"})

	// ActiveVersion is set to 1 for the cache version currently serving requests
	ActiveVersion = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "offline_cache_active_version",
		Help: "Set to 1 for the cache version that currently handles requests",
	}, []string{"version"})

	// PurgedStores counts cache stores deleted because their version was superseded
	PurgedStores = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_cache_purged_stores_total",
		Help: "The number of superseded cache stores deleted on activation",
	})

	// LRUCachedEntries is the number of entries held by the in-memory front cache
	LRUCachedEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "offline_cache_lru_cached_entries",
		Help: "The number of entries held in the in-memory front cache",
	}, []string{"op"})

	// LRURequests counts front cache lookups by result
	LRURequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_cache_lru_requests_total",
		Help: "The number of in-memory front cache lookups by result",
	}, []string{"op", "cache"})

	// NetworkRequests counts network round trips by status code or "error"
	NetworkRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_cache_network_requests_total",
		Help: "The number of network round trips by status code",
	}, []string{"status_code"})

	// NetworkDuration records network round trip durations
	NetworkDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "offline_cache_network_duration_seconds",
		Help: "Network round trip duration by status code",
	}, []string{"status_code"})

	// NetworkTrace records the httptrace phases of network round trips
	NetworkTrace = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offline_cache_network_trace_seconds",
		Help:    "Network round trip latency per httptrace phase",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"request_stage"})

	// APIRateLimited counts post API requests rejected by the source IP limiter
	APIRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coredumped_site_api_rate_limited_total",
		Help: "The number of post API requests rejected because the source IP hit its rate limit",
	})
)

func init() {
	prometheus.MustRegister(InterceptedRequests)
	prometheus.MustRegister(Installs)
	prometheus.MustRegister(Revalidations)
	prometheus.MustRegister(ActiveVersion)
	prometheus.MustRegister(PurgedStores)
	prometheus.MustRegister(LRUCachedEntries)
	prometheus.MustRegister(LRURequests)
	prometheus.MustRegister(NetworkRequests)
	prometheus.MustRegister(NetworkDuration)
	prometheus.MustRegister(NetworkTrace)
	prometheus.MustRegister(APIRateLimited)
}
