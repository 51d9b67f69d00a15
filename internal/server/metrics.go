package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the catalog collectors on a private registry so several
// handlers can coexist in one process.
type Metrics struct {
	Registry   *prometheus.Registry
	claims     *prometheus.CounterVec
	rejections *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}
	m.claims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seisreview",
		Name:      "claims_total",
		Help:      "Claim attempts by result",
	}, []string{"result"})
	m.rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seisreview",
		Name:      "rejections_total",
		Help:      "Reject attempts by result",
	}, []string{"result"})
	m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "seisreview",
		Name:      "request_duration_seconds",
		Help:      "Catalog API latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
	m.Registry.MustRegister(m.claims, m.rejections, m.latency,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.latency.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) claim(result string) {
	m.claims.WithLabelValues(result).Inc()
}

func (m *Metrics) reject(result string) {
	m.rejections.WithLabelValues(result).Inc()
}
