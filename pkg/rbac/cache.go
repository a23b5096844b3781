package rbac

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/hub/pkg/observability"
)

// CacheBackend stores computed permission sets keyed by user, tenant and the
// user's invalidation generation.
//
// Generation returns the user's current generation. Set must only store the
// entry when gen is still the user's current generation, so a computation
// that started before Bump can never publish its result afterwards. Bump
// advances the generation, orphaning every entry of the user.
type CacheBackend interface {
	Name() string
	Generation(ctx context.Context, userID int64) (uint64, error)
	Get(ctx context.Context, userID int64, tenantID *int64, gen uint64) ([]string, bool, error)
	Set(ctx context.Context, userID int64, tenantID *int64, gen uint64, keys []string) error
	Bump(ctx context.Context, userID int64) error
}

// PermissionLoader computes a user's role-derived and directly granted
// permission keys in a tenant
type PermissionLoader interface {
	EffectivePermissionKeys(ctx context.Context, userID int64, tenantID *int64) ([]string, error)
}

// PermissionCache memoizes effective permission sets per (user, tenant)
type PermissionCache struct {
	backend     CacheBackend
	loader      PermissionLoader
	group       singleflight.Group
	metrics     *observability.Metrics
	instruments *observability.AuthzInstruments
}

// NewPermissionCache creates a cache over backend, filled from loader
func NewPermissionCache(backend CacheBackend, loader PermissionLoader) *PermissionCache {
	return &PermissionCache{backend: backend, loader: loader}
}

// WithMetrics attaches hit/miss counters and load instruments
func (c *PermissionCache) WithMetrics(metrics *observability.Metrics, instruments *observability.AuthzInstruments) *PermissionCache {
	c.metrics = metrics
	c.instruments = instruments
	return c
}

// EffectivePermissions returns the user's permission set in tenantID
func (c *PermissionCache) EffectivePermissions(ctx context.Context, userID int64, tenantID *int64) (map[string]struct{}, error) {
	backend := c.backend.Name()

	gen, err := c.backend.Generation(ctx, userID)
	if err != nil {
		// Without a generation nothing can be safely published; serve from the store.
		c.metrics.RecordCacheMiss(backend)
		keys, err := c.loader.EffectivePermissionKeys(ctx, userID, tenantID)
		if err != nil {
			return nil, err
		}
		return toSet(keys), nil
	}

	if keys, ok, err := c.backend.Get(ctx, userID, tenantID, gen); err == nil && ok {
		c.metrics.RecordCacheHit(backend)
		return toSet(keys), nil
	}
	c.metrics.RecordCacheMiss(backend)

	flightKey := strconv.FormatInt(userID, 10) + ":" + tenantSegment(tenantID) + ":" + strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		keys, err := c.loader.EffectivePermissionKeys(ctx, userID, tenantID)
		if err != nil {
			return nil, err
		}
		c.instruments.RecordCacheLoad(ctx, backend)
		// A failed write only costs a later recomputation.
		_ = c.backend.Set(ctx, userID, tenantID, gen, keys)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return toSet(v.([]string)), nil
}

// Invalidate drops every cached set of the user, across all tenants
func (c *PermissionCache) Invalidate(ctx context.Context, userID int64) error {
	if err := c.backend.Bump(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate permissions of user %d: %w", userID, err)
	}
	return nil
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func tenantSegment(tenantID *int64) string {
	if tenantID == nil {
		return "global"
	}
	return strconv.FormatInt(*tenantID, 10)
}

// MemoryBackend keeps permission sets in a process-local expirable LRU.
//
// Generations come from a single counter and are never reused. Tracked users
// are bounded like the entries; a user without a tracked generation is at
// floor, which moves past every issued generation whenever one is evicted.
type MemoryBackend struct {
	mu      sync.Mutex
	clock   uint64
	floor   uint64
	gens    *lru.Cache[int64, uint64]
	entries *expirable.LRU[string, []string]
}

// NewMemoryBackend creates an in-process backend holding up to size
// entries. A ttl of zero disables time-based expiry.
func NewMemoryBackend(size int, ttl time.Duration) *MemoryBackend {
	if size <= 0 {
		size = 10000
	}
	// lru.New only fails for a non-positive size
	gens, _ := lru.New[int64, uint64](size)
	return &MemoryBackend{
		gens:    gens,
		entries: expirable.NewLRU[string, []string](size, nil, ttl),
	}
}

// Name implements CacheBackend
func (m *MemoryBackend) Name() string { return "memory" }

// Generation implements CacheBackend
func (m *MemoryBackend) Generation(_ context.Context, userID int64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation(userID), nil
}

func (m *MemoryBackend) generation(userID int64) uint64 {
	if gen, ok := m.gens.Get(userID); ok {
		return gen
	}
	return m.floor
}

// Get implements CacheBackend
func (m *MemoryBackend) Get(_ context.Context, userID int64, tenantID *int64, gen uint64) ([]string, bool, error) {
	keys, ok := m.entries.Get(memoryKey(userID, tenantID, gen))
	return keys, ok, nil
}

// Set implements CacheBackend
func (m *MemoryBackend) Set(_ context.Context, userID int64, tenantID *int64, gen uint64, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation(userID) != gen {
		return nil
	}
	stored := make([]string, len(keys))
	copy(stored, keys)
	m.entries.Add(memoryKey(userID, tenantID, gen), stored)
	return nil
}

// Bump implements CacheBackend
func (m *MemoryBackend) Bump(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clock++
	if evicted := m.gens.Add(userID, m.clock); evicted {
		m.clock++
		m.floor = m.clock
	}
	return nil
}

// TrackedUsers returns the number of users holding their own generation
func (m *MemoryBackend) TrackedUsers() int {
	return m.gens.Len()
}

// Len returns the number of cached entries, including orphaned generations
func (m *MemoryBackend) Len() int {
	return m.entries.Len()
}

func memoryKey(userID int64, tenantID *int64, gen uint64) string {
	return strconv.FormatInt(userID, 10) + ":" + tenantSegment(tenantID) + ":" + strconv.FormatUint(gen, 10)
}
