package rbac

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/hub/pkg/observability"
	"github.com/platinummonkey/hub/pkg/tenants"
)

// Checker answers authorization questions
type Checker interface {
	// Can checks permissionExpr in the tenant carried by ctx
	Can(ctx context.Context, userID int64, permissionExpr string) (bool, error)

	// CanInTenant checks permissionExpr in an explicit tenant (nil for global)
	CanInTenant(ctx context.Context, userID int64, permissionExpr string, tenantID *int64) (bool, error)
}

// DecisionStore answers the membership questions that bypass the cache
type DecisionStore interface {
	IsSuperAdmin(ctx context.Context, userID int64) (bool, error)
	HasRoleNamedInAnyTenant(ctx context.Context, userID int64, names []string) (bool, error)
}

// AuthorizerConfig configures an Authorizer
type AuthorizerConfig struct {
	// HubSlug is the namespace of the administrative tenant's permissions
	HubSlug     string
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Instruments *observability.AuthzInstruments
}

// Authorizer is the permission decision engine.
//
// For each key of a pipe-delimited expression it applies, in order: the
// global super admin bypass, per-user overrides, the cached role-derived
// set, and the hub fallback for requests with no tenant. The expression is
// allowed as soon as one key is.
type Authorizer struct {
	store     DecisionStore
	overrides *OverrideEvaluator
	cache     *PermissionCache

	hubPrefix   string
	logger      *observability.Logger
	metrics     *observability.Metrics
	instruments *observability.AuthzInstruments
	tracer      trace.Tracer
}

var _ Checker = (*Authorizer)(nil)

// NewAuthorizer creates a new Authorizer
func NewAuthorizer(store DecisionStore, overrides *OverrideEvaluator, cache *PermissionCache, cfg AuthorizerConfig) *Authorizer {
	hubSlug := cfg.HubSlug
	if hubSlug == "" {
		hubSlug = "hub"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	return &Authorizer{
		store:       store,
		overrides:   overrides,
		cache:       cache,
		hubPrefix:   hubSlug + ".",
		logger:      logger,
		metrics:     cfg.Metrics,
		instruments: cfg.Instruments,
		tracer:      otel.Tracer("github.com/platinummonkey/hub/pkg/rbac"),
	}
}

// Can checks permissionExpr in the current tenant of ctx
func (a *Authorizer) Can(ctx context.Context, userID int64, permissionExpr string) (bool, error) {
	return a.CanInTenant(ctx, userID, permissionExpr, tenants.Current(ctx))
}

// CanInTenant checks permissionExpr in tenantID
func (a *Authorizer) CanInTenant(ctx context.Context, userID int64, permissionExpr string, tenantID *int64) (bool, error) {
	result, err := a.Check(ctx, userID, permissionExpr, tenantID)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// Check evaluates permissionExpr and reports which rule decided it. On error
// the result is a denial.
func (a *Authorizer) Check(ctx context.Context, userID int64, permissionExpr string, tenantID *int64) (*CheckResult, error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "rbac.Check", trace.WithAttributes(
		attribute.Int64("hub.user_id", userID),
		attribute.String("hub.permission", permissionExpr),
		attribute.String("hub.tenant", tenantSegment(tenantID)),
	))
	defer span.End()

	result, err := a.check(ctx, userID, permissionExpr, tenantID)
	result.TenantID = tenantID
	result.CheckedAt = time.Now().UTC()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.metrics.RecordDecision("error", result.Source)
		a.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":    userID,
			"permission": permissionExpr,
			"tenant":     tenantSegment(tenantID),
		}).Error("Permission check failed")
		return result, err
	}

	span.SetAttributes(
		attribute.Bool("hub.allowed", result.Allowed),
		attribute.String("hub.source", result.Source),
	)
	a.metrics.RecordDecision(outcome(result.Allowed), result.Source)
	a.instruments.RecordDecision(ctx, time.Since(start), result.Allowed, result.Source)
	return result, nil
}

func (a *Authorizer) check(ctx context.Context, userID int64, permissionExpr string, tenantID *int64) (*CheckResult, error) {
	denied := &CheckResult{Source: SourceNone}

	if userID <= 0 {
		return denied, ErrUnauthenticated
	}

	keys := ParseExpression(permissionExpr)
	if len(keys) == 0 {
		return denied, nil
	}

	superAdmin, err := a.store.IsSuperAdmin(ctx, userID)
	if err != nil {
		return denied, err
	}
	if superAdmin {
		return &CheckResult{Allowed: true, Permission: keys[0], Source: SourceSuperAdmin}, nil
	}

	var granted map[string]struct{}
	for _, key := range keys {
		decision, err := a.overrides.Evaluate(ctx, userID, key, tenantID)
		if err != nil {
			return denied, err
		}
		switch decision {
		case DecisionAllow:
			return &CheckResult{Allowed: true, Permission: key, Source: SourceOverride}, nil
		case DecisionDeny:
			denied.Source = SourceOverride
			continue
		}

		if granted == nil {
			granted, err = a.cache.EffectivePermissions(ctx, userID, tenantID)
			if err != nil {
				return denied, err
			}
		}
		if _, ok := granted[key]; ok {
			return &CheckResult{Allowed: true, Permission: key, Source: SourceRole}, nil
		}

		if tenantID == nil && strings.HasPrefix(key, a.hubPrefix) {
			ok, err := a.store.HasRoleNamedInAnyTenant(ctx, userID, HubFallbackRoleNames)
			if err != nil {
				return denied, err
			}
			if ok {
				return &CheckResult{Allowed: true, Permission: key, Source: SourceHubFallback}, nil
			}
		}
	}

	return denied, nil
}

// EffectivePermissions returns the sorted role-derived and direct permission
// keys of a user in a tenant. Overrides and the super admin bypass are not
// reflected.
func (a *Authorizer) EffectivePermissions(ctx context.Context, userID int64, tenantID *int64) ([]string, error) {
	if userID <= 0 {
		return nil, ErrUnauthenticated
	}
	set, err := a.cache.EffectivePermissions(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// FlushUserCache drops every cached permission set of the user
func (a *Authorizer) FlushUserCache(ctx context.Context, userID int64) error {
	return a.cache.Invalidate(ctx, userID)
}

func outcome(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
