package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics exported by the hub
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal          *prometheus.CounterVec
	AuthzCacheHitsTotal          *prometheus.CounterVec
	AuthzCacheMissesTotal        *prometheus.CounterVec
	AuthzInvalidationsTotal      *prometheus.CounterVec
	AuthzInvalidationErrorsTotal *prometheus.CounterVec
	OverridesPurgedTotal         prometheus.Counter

	// Tenant resolution
	TenantResolutionsTotal *prometheus.CounterVec

	// Database pool
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_authz_decisions_total",
				Help: "Authorization decisions by result and deciding source",
			},
			[]string{"result", "source"},
		),
		AuthzCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_authz_cache_hits_total",
				Help: "Permission cache hits",
			},
			[]string{"backend"},
		),
		AuthzCacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_authz_cache_misses_total",
				Help: "Permission cache misses",
			},
			[]string{"backend"},
		),
		AuthzInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_authz_invalidations_total",
				Help: "Per-user permission cache invalidations by triggering event",
			},
			[]string{"reason"},
		),
		AuthzInvalidationErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_authz_invalidation_errors_total",
				Help: "Invalidation failures that were logged and skipped",
			},
			[]string{"reason"},
		),
		OverridesPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hub_authz_overrides_purged_total",
				Help: "Expired permission overrides removed by the purge job",
			},
		),

		TenantResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hub_tenant_resolutions_total",
				Help: "Tenant resolutions from request paths by outcome",
			},
			[]string{"outcome"},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_db_connections_open",
			Help: "Number of established database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_db_connections_in_use",
			Help: "Number of database connections currently in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_db_connections_idle",
			Help: "Number of idle database connections",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzCacheHitsTotal,
		m.AuthzCacheMissesTotal,
		m.AuthzInvalidationsTotal,
		m.AuthzInvalidationErrorsTotal,
		m.OverridesPurgedTotal,
		m.TenantResolutionsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordDecision counts an authorization decision
func (m *Metrics) RecordDecision(result, source string) {
	if m == nil {
		return
	}
	m.AuthzDecisionsTotal.WithLabelValues(result, source).Inc()
}

// RecordCacheHit counts a permission cache hit
func (m *Metrics) RecordCacheHit(backend string) {
	if m == nil {
		return
	}
	m.AuthzCacheHitsTotal.WithLabelValues(backend).Inc()
}

// RecordCacheMiss counts a permission cache miss
func (m *Metrics) RecordCacheMiss(backend string) {
	if m == nil {
		return
	}
	m.AuthzCacheMissesTotal.WithLabelValues(backend).Inc()
}

// RecordInvalidation counts a successful per-user invalidation
func (m *Metrics) RecordInvalidation(reason string) {
	if m == nil {
		return
	}
	m.AuthzInvalidationsTotal.WithLabelValues(reason).Inc()
}

// RecordInvalidationError counts a swallowed invalidation failure
func (m *Metrics) RecordInvalidationError(reason string) {
	if m == nil {
		return
	}
	m.AuthzInvalidationErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordOverridesPurged adds n to the purged overrides counter
func (m *Metrics) RecordOverridesPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.OverridesPurgedTotal.Add(float64(n))
}

// RecordTenantResolution counts a tenant resolution outcome (resolved, unresolved, error)
func (m *Metrics) RecordTenantResolution(outcome string) {
	if m == nil {
		return
	}
	m.TenantResolutionsTotal.WithLabelValues(outcome).Inc()
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// statusRecorder captures the response status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and latency labelled by mux route template
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			if metrics == nil {
				return
			}
			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// routeTemplate keeps label cardinality bounded by using the matched route pattern
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
