// Package metrics exposes Prometheus metrics for the feature service.
//
// A nil *Provider is valid and records nothing, so services and tests can
// run without a registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kzm"

type Provider struct {
	reg *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	serialized       *prometheus.CounterVec
	serializeErrors  *prometheus.CounterVec
	queryDuration    *prometheus.HistogramVec
	cacheResults     *prometheus.CounterVec
	featureWrites    *prometheus.CounterVec
	importedFeatures prometheus.Counter
}

// New builds a Provider on its own registry, with Go runtime and process
// collectors attached.
func New(version string) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	build := f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build info for this binary (value is always 1).",
	}, []string{"version"})
	if version == "" {
		version = "dev"
	}
	build.WithLabelValues(version).Set(1)

	return &Provider{
		reg: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"method", "route"}),
		serialized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_serialized_total",
			Help:      "Features written into GeoJSON responses.",
		}, []string{"layer"}),
		serializeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_serialize_errors_total",
			Help:      "Features skipped during serialization because of invalid geometry.",
		}, []string{"layer"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feature_query_duration_seconds",
			Help:      "Time spent loading, filtering and serializing features.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"kind"}),
		cacheResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_results_total",
			Help:      "Collection cache lookups by outcome.",
		}, []string{"outcome"}),
		featureWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_writes_total",
			Help:      "Feature writes by operation.",
		}, []string{"op"}),
		importedFeatures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_imported_total",
			Help:      "Features created from GeoJSON source files.",
		}),
	}
}

func (p *Provider) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) ObserveHTTP(method, route string, status int, d time.Duration) {
	if p == nil {
		return
	}
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Serialized records one serialization batch for a layer ("_all" for
// cross-layer queries).
func (p *Provider) Serialized(layer string, ok, failed int) {
	if p == nil {
		return
	}
	p.serialized.WithLabelValues(layer).Add(float64(ok))
	if failed > 0 {
		p.serializeErrors.WithLabelValues(layer).Add(float64(failed))
	}
}

func (p *Provider) ObserveQuery(kind string, d time.Duration) {
	if p == nil {
		return
	}
	p.queryDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *Provider) CacheHit() {
	if p == nil {
		return
	}
	p.cacheResults.WithLabelValues("hit").Inc()
}

func (p *Provider) CacheMiss() {
	if p == nil {
		return
	}
	p.cacheResults.WithLabelValues("miss").Inc()
}

func (p *Provider) CacheError() {
	if p == nil {
		return
	}
	p.cacheResults.WithLabelValues("error").Inc()
}

func (p *Provider) FeatureWrite(op string) {
	if p == nil {
		return
	}
	p.featureWrites.WithLabelValues(op).Inc()
}

func (p *Provider) Imported(n int) {
	if p == nil {
		return
	}
	p.importedFeatures.Add(float64(n))
}
