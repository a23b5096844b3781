package main

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/hub/pkg/httputil"
	"github.com/platinummonkey/hub/pkg/middleware"
	"github.com/platinummonkey/hub/pkg/observability"
)

// routerOptions holds what the HTTP surface is assembled from
type routerOptions struct {
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Registry   *prometheus.Registry // nil disables /metrics
	Health     *observability.HealthChecker
	Resolver   middleware.TenantResolver
	UserHeader string

	// Routes registers the application routes
	Routes func(*mux.Router)
}

// newRouter serves health and metrics outside any tenant. Identity and tenant
// resolution only run in front of application routes.
func newRouter(opts routerOptions) *mux.Router {
	router := mux.NewRouter()
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.LoggerMiddleware(opts.Logger))
	router.Use(httputil.RecoveryMiddleware(opts.Logger))
	router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))

	observability.RegisterHealthRoutes(router, opts.Health)
	if opts.Registry != nil {
		observability.RegisterMetricsEndpoint(router, opts.Registry)
	}

	app := router.PathPrefix("/").Subrouter()
	app.Use(middleware.NewIdentityMiddleware(opts.UserHeader, true).Handler)
	app.Use(middleware.TenantContextMiddleware(opts.Resolver, opts.Logger))
	if opts.Routes != nil {
		opts.Routes(app)
	}

	return router
}
