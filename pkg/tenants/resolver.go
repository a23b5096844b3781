package tenants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/hub/pkg/observability"
)

// Resolution outcomes reported to metrics
const (
	OutcomeResolved   = "resolved"
	OutcomeUnresolved = "unresolved"
	OutcomeError      = "error"
)

// SlugLookup finds a tenant by its slug. Service satisfies it.
type SlugLookup interface {
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
}

// ResolverConfig configures a Resolver
type ResolverConfig struct {
	// APIPrefix is the namespace marker skipped before the tenant segment
	APIPrefix string
	// Aliases maps legacy slugs to canonical ones
	Aliases   map[string]string
	CacheSize int
	CacheTTL  time.Duration
	Metrics   *observability.Metrics
}

// Resolver maps request paths to tenant IDs
type Resolver struct {
	lookup    SlugLookup
	apiPrefix string
	metrics   *observability.Metrics

	mu      sync.RWMutex
	aliases map[string]string

	// slug -> tenant id, found tenants only
	cache *expirable.LRU[string, int64]
}

// NewResolver creates a Resolver backed by lookup
func NewResolver(lookup SlugLookup, cfg ResolverConfig) *Resolver {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}

	r := &Resolver{
		lookup:    lookup,
		apiPrefix: strings.ToLower(cfg.APIPrefix),
		metrics:   cfg.Metrics,
		cache:     expirable.NewLRU[string, int64](cfg.CacheSize, nil, cfg.CacheTTL),
	}
	r.SetAliases(cfg.Aliases)
	return r
}

// SetAliases replaces the legacy alias table
func (r *Resolver) SetAliases(aliases map[string]string) {
	normalized := make(map[string]string, len(aliases))
	for from, to := range aliases {
		normalized[strings.ToLower(from)] = strings.ToLower(to)
	}

	r.mu.Lock()
	r.aliases = normalized
	r.mu.Unlock()
}

// Slug returns the canonical tenant slug named by path, or "" when the path
// carries no tenant segment
func (r *Resolver) Slug(path string) string {
	segments := splitPath(path)
	if len(segments) == 0 {
		return ""
	}

	segment := strings.ToLower(segments[0])
	if r.apiPrefix != "" && segment == r.apiPrefix {
		if len(segments) < 2 {
			return ""
		}
		segment = strings.ToLower(segments[1])
	}

	r.mu.RLock()
	if canonical, ok := r.aliases[segment]; ok {
		segment = canonical
	}
	r.mu.RUnlock()

	return segment
}

// Resolve returns the tenant ID for path. A path that names no known tenant
// resolves to nil without error.
func (r *Resolver) Resolve(ctx context.Context, path string) (*int64, error) {
	slug := r.Slug(path)
	if slug == "" {
		r.metrics.RecordTenantResolution(OutcomeUnresolved)
		return nil, nil
	}

	if id, ok := r.cache.Get(slug); ok {
		r.metrics.RecordTenantResolution(OutcomeResolved)
		return &id, nil
	}

	tenant, err := r.lookup.GetTenantBySlug(ctx, slug)
	if errors.Is(err, ErrTenantNotFound) {
		r.metrics.RecordTenantResolution(OutcomeUnresolved)
		return nil, nil
	}
	if err != nil {
		r.metrics.RecordTenantResolution(OutcomeError)
		return nil, fmt.Errorf("failed to resolve tenant %q: %w", slug, err)
	}

	r.cache.Add(slug, tenant.ID)
	r.metrics.RecordTenantResolution(OutcomeResolved)
	id := tenant.ID
	return &id, nil
}

func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
