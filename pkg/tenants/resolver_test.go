package tenants

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hub/pkg/observability"
)

type fakeLookup struct {
	mu      sync.Mutex
	tenants map[string]int64
	err     error
	calls   int
}

func (f *fakeLookup) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.tenants[slug]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &Tenant{ID: id, Slug: slug}, nil
}

func newTestResolver(lookup *fakeLookup) *Resolver {
	return NewResolver(lookup, ResolverConfig{
		APIPrefix: "api",
		Aliases:   map[string]string{"helpdesk": "tickets"},
	})
}

func TestResolverResolve(t *testing.T) {
	lookup := &fakeLookup{tenants: map[string]int64{"tickets": 1, "newsletters": 2}}
	resolver := newTestResolver(lookup)

	tests := []struct {
		name     string
		path     string
		expected *int64
	}{
		{name: "first segment", path: "/tickets/42", expected: int64Ptr(1)},
		{name: "api prefix skipped", path: "/api/tickets/42", expected: int64Ptr(1)},
		{name: "legacy alias", path: "/helpdesk/42", expected: int64Ptr(1)},
		{name: "alias behind api prefix", path: "/api/helpdesk", expected: int64Ptr(1)},
		{name: "case insensitive", path: "/Newsletters", expected: int64Ptr(2)},
		{name: "query string ignored", path: "/newsletters?page=2", expected: int64Ptr(2)},
		{name: "unknown slug", path: "/unknown/1", expected: nil},
		{name: "root", path: "/", expected: nil},
		{name: "api only", path: "/api", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := resolver.Resolve(context.Background(), tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestResolverCachesFoundTenants(t *testing.T) {
	lookup := &fakeLookup{tenants: map[string]int64{"tickets": 1}}
	resolver := newTestResolver(lookup)

	for i := 0; i < 3; i++ {
		_, err := resolver.Resolve(context.Background(), "/tickets")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, lookup.calls)

	for i := 0; i < 2; i++ {
		_, err := resolver.Resolve(context.Background(), "/missing")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, lookup.calls, "unknown slugs are not cached")
}

func TestResolverStoreError(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("db down")}
	resolver := newTestResolver(lookup)

	id, err := resolver.Resolve(context.Background(), "/tickets")
	require.Error(t, err)
	assert.Nil(t, id)
}

func TestResolverSetAliases(t *testing.T) {
	lookup := &fakeLookup{tenants: map[string]int64{"tickets": 1, "newsletters": 2}}
	resolver := newTestResolver(lookup)

	assert.Equal(t, "tickets", resolver.Slug("/helpdesk"))

	resolver.SetAliases(map[string]string{"Mailers": "Newsletters"})
	assert.Equal(t, "helpdesk", resolver.Slug("/helpdesk"))
	assert.Equal(t, "newsletters", resolver.Slug("/mailers/3"))
}

func TestResolverMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	lookup := &fakeLookup{tenants: map[string]int64{"tickets": 1}}
	resolver := NewResolver(lookup, ResolverConfig{APIPrefix: "api", Metrics: metrics})

	_, _ = resolver.Resolve(context.Background(), "/tickets")
	_, _ = resolver.Resolve(context.Background(), "/nope")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TenantResolutionsTotal.WithLabelValues(OutcomeResolved)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TenantResolutionsTotal.WithLabelValues(OutcomeUnresolved)))
}

func int64Ptr(v int64) *int64 { return &v }
