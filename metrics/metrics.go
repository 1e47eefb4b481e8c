// Package metrics wraps github.com/prometheus/client_golang counters and
// histograms for the injector's two process-wide consumers: the cache layer
// and the CLI. It mirrors the reference codebase's metrics.Registry shape
// (a namespaced registry exposing a Prometheus HTTP handler) but backs it
// with the real client library instead of a hand-rolled text formatter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Registry collects the counters and histograms the cache layer records
// against. Safe for concurrent use; every field is itself concurrency-safe.
type Registry struct {
	reg *prometheus.Registry

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	InjectErrors   prometheus.Counter

	InputBytes  prometheus.Histogram
	OutputBytes prometheus.Histogram
	Duration    prometheus.Histogram
}

// New builds a Registry under the given namespace (e.g. "gasinject"),
// registering every metric with a fresh prometheus.Registry so repeated
// calls in tests never collide on global registration.
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "Injections served from the cache without re-running the analyzer.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "Injections that required a fresh Orchestrator.Inject pass.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_evictions_total",
			Help: "Entries evicted from the cache to make room under capacity.",
		}),
		InjectErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "inject_errors_total",
			Help: "Orchestrator.Inject calls that returned an error.",
		}),
		InputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "input_bytes",
			Help:    "Size of the Wasm module before injection.",
			Buckets: prometheus.ExponentialBuckets(256, 2, 12),
		}),
		OutputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "output_bytes",
			Help:    "Size of the Wasm module after injection.",
			Buckets: prometheus.ExponentialBuckets(256, 2, 12),
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "inject_duration_seconds",
			Help:    "Wall time spent in a single Orchestrator.Inject call.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		r.CacheHits, r.CacheMisses, r.CacheEvictions, r.InjectErrors,
		r.InputBytes, r.OutputBytes, r.Duration,
	)
	return r
}

// Handler returns an http.Handler serving this registry's metrics in
// Prometheus text exposition format, suitable for mounting on a CLI's
// optional -metrics-addr listener.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
