package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hub/pkg/middleware"
	"github.com/platinummonkey/hub/pkg/observability"
	"github.com/platinummonkey/hub/pkg/tenants"
)

type countingLookup struct {
	calls   atomic.Int32
	tenants map[string]int64
	err     error
}

func (c *countingLookup) GetTenantBySlug(ctx context.Context, slug string) (*tenants.Tenant, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	if id, ok := c.tenants[slug]; ok {
		return &tenants.Tenant{ID: id, Slug: slug}, nil
	}
	return nil, tenants.ErrTenantNotFound
}

func testRouter(lookup tenants.SlugLookup, routes func(*mux.Router)) *mux.Router {
	registry := prometheus.NewRegistry()
	return newRouter(routerOptions{
		Logger:     observability.NewLogger(observability.InfoLevel, io.Discard),
		Metrics:    observability.NewMetrics(registry),
		Registry:   registry,
		Health:     observability.NewHealthChecker(nil, nil),
		Resolver:   tenants.NewResolver(lookup, tenants.ResolverConfig{APIPrefix: "api"}),
		UserHeader: middleware.DefaultUserHeader,
		Routes:     routes,
	})
}

func serve(router http.Handler, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set(middleware.DefaultUserHeader, user)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestNewRouter_OperationalRoutesSkipTenantResolution(t *testing.T) {
	lookup := &countingLookup{err: errors.New("connection refused")}
	router := testRouter(lookup, func(r *mux.Router) {
		r.HandleFunc("/api/{tenant}/ping", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	})

	for _, path := range []string{"/health/live", "/health/live", "/metrics"} {
		rr := serve(router, path, "not-a-number")
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
	assert.Equal(t, int32(0), lookup.calls.Load())

	rr := serve(router, "/api/tickets/ping", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, int32(1), lookup.calls.Load())
}

func TestNewRouter_ApplicationRoutesCarryIdentityAndTenant(t *testing.T) {
	lookup := &countingLookup{tenants: map[string]int64{"tickets": 3}}
	var tenantID *int64
	var userID int64
	router := testRouter(lookup, func(r *mux.Router) {
		r.HandleFunc("/api/{tenant}/ping", func(w http.ResponseWriter, r *http.Request) {
			tenantID = tenants.Current(r.Context())
			if authCtx := middleware.GetAuthContext(r); authCtx != nil {
				userID, _ = authCtx.UserID()
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	rr := serve(router, "/api/tickets/ping", "7")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, tenantID)
	assert.Equal(t, int64(3), *tenantID)
	assert.Equal(t, int64(7), userID)

	assert.Equal(t, http.StatusUnauthorized, serve(router, "/api/tickets/ping", "abc").Code)
	assert.Equal(t, http.StatusNotFound, serve(router, "/nowhere", "").Code)
}
