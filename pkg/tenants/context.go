package tenants

import (
	"context"

	"github.com/platinummonkey/hub/pkg/contextkeys"
)

// scope wraps the tenant so a nil (global) tenant can be stored explicitly
type scope struct {
	id *int64
}

// WithCurrent returns a context whose current tenant is id. A nil id marks
// the global (tenant-less) context.
func WithCurrent(ctx context.Context, id *int64) context.Context {
	var stored *int64
	if id != nil {
		v := *id
		stored = &v
	}
	return context.WithValue(ctx, contextkeys.TenantKey, scope{id: stored})
}

// Current returns the current tenant, or nil when none is set
func Current(ctx context.Context) *int64 {
	s, ok := ctx.Value(contextkeys.TenantKey).(scope)
	if !ok || s.id == nil {
		return nil
	}
	v := *s.id
	return &v
}

// IsSet reports whether a tenant scope (possibly global) was established on ctx
func IsSet(ctx context.Context) bool {
	_, ok := ctx.Value(contextkeys.TenantKey).(scope)
	return ok
}

// Within runs fn with id as the current tenant
func Within(ctx context.Context, id *int64, fn func(ctx context.Context) error) error {
	return fn(WithCurrent(ctx, id))
}
