package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matzehuels/tikzserve/pkg/buildinfo"
	errs "github.com/matzehuels/tikzserve/pkg/errors"
	"github.com/matzehuels/tikzserve/pkg/observability"
)

const metricsNamespace = "tikzserve"

// Metrics records service metrics in a Prometheus registry. It implements
// the render, cache and HTTP observability hooks.
type Metrics struct {
	registry *prometheus.Registry

	rendersInFlight prometheus.Gauge
	renders         *prometheus.CounterVec
	renderDuration  *prometheus.HistogramVec

	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	cacheWriteBytes *prometheus.CounterVec
	evictedEntries  prometheus.Counter
	evictedBytes    prometheus.Counter

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics and their registry, including Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	f.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "build_info",
		Help:      "Build information of the running binary.",
		ConstLabels: prometheus.Labels{
			"version": buildinfo.Version,
			"commit":  buildinfo.Commit,
		},
	}).Set(1)

	return &Metrics{
		registry: reg,
		rendersInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "renders_in_flight",
			Help:      "Toolchain invocations currently running.",
		}),
		renders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "renders_total",
			Help:      "Toolchain invocations by format and outcome.",
		}, []string{"format", "outcome"}),
		renderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "render_duration_seconds",
			Help:      "Wall time of toolchain invocations.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 15, 30},
		}, []string{"format"}),
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_hits_total",
			Help:      "Cache lookups served from disk.",
		}, []string{"format"}),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_misses_total",
			Help:      "Cache lookups that required a render.",
		}, []string{"format"}),
		cacheWriteBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_written_bytes_total",
			Help:      "Bytes written to the cache.",
		}, []string{"format"}),
		evictedEntries: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_evicted_entries_total",
			Help:      "Cache entries removed by cleaning.",
		}),
		evictedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_evicted_bytes_total",
			Help:      "Bytes freed by cleaning.",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Install registers m as the global observability hooks.
func (m *Metrics) Install() {
	observability.SetRenderHooks(m)
	observability.SetCacheHooks(m)
	observability.SetHTTPHooks(m)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) OnRenderStart(context.Context, string) {
	m.rendersInFlight.Inc()
}

func (m *Metrics) OnRenderComplete(_ context.Context, format string, d time.Duration, err error) {
	m.rendersInFlight.Dec()
	m.renders.WithLabelValues(format, outcome(err)).Inc()
	m.renderDuration.WithLabelValues(format).Observe(d.Seconds())
}

func (m *Metrics) OnCacheHit(_ context.Context, format string) {
	m.cacheHits.WithLabelValues(format).Inc()
}

func (m *Metrics) OnCacheMiss(_ context.Context, format string) {
	m.cacheMisses.WithLabelValues(format).Inc()
}

func (m *Metrics) OnCacheSet(_ context.Context, format string, size int) {
	m.cacheWriteBytes.WithLabelValues(format).Add(float64(size))
}

func (m *Metrics) OnEvict(_ context.Context, removed int, freed int64) {
	m.evictedEntries.Add(float64(removed))
	m.evictedBytes.Add(float64(freed))
}

func (m *Metrics) OnRequest(context.Context, string, string) {}

func (m *Metrics) OnResponse(_ context.Context, method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// outcome labels a render result: "ok" or the lower-cased error code.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	code := errs.GetCode(err)
	if code == "" {
		code = errs.ErrCodeInternal
	}
	return strings.ToLower(string(code))
}

var (
	_ observability.RenderHooks = (*Metrics)(nil)
	_ observability.CacheHooks  = (*Metrics)(nil)
	_ observability.HTTPHooks   = (*Metrics)(nil)
)
