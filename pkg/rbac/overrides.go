package rbac

import (
	"context"
	"time"
)

// OverrideSource loads candidate overrides for a user and permission key
type OverrideSource interface {
	OverridesFor(ctx context.Context, userID int64, key string, tenantID *int64) ([]Override, error)
}

// OverrideEvaluator decides whether an explicit per-user override applies
type OverrideEvaluator struct {
	source OverrideSource
	now    func() time.Time
}

// NewOverrideEvaluator creates an evaluator. A nil clock uses time.Now.
func NewOverrideEvaluator(source OverrideSource, clock func() time.Time) *OverrideEvaluator {
	if clock == nil {
		clock = time.Now
	}
	return &OverrideEvaluator{source: source, now: clock}
}

// Evaluate returns the effect of the winning active override for key in
// tenantID, or DecisionNotApplicable when none is in force
func (e *OverrideEvaluator) Evaluate(ctx context.Context, userID int64, key string, tenantID *int64) (Decision, error) {
	candidates, err := e.source.OverridesFor(ctx, userID, key, tenantID)
	if err != nil {
		return DecisionNotApplicable, err
	}

	winner := selectOverride(candidates, tenantID, e.now())
	if winner == nil {
		return DecisionNotApplicable, nil
	}
	if winner.Effect == EffectDeny {
		return DecisionDeny, nil
	}
	if winner.Effect == EffectAllow {
		return DecisionAllow, nil
	}
	return DecisionNotApplicable, nil
}

// selectOverride picks the override in force: tenant-specific rows beat
// tenant-independent ones, then the newest row wins, then the highest id
func selectOverride(candidates []Override, tenantID *int64, now time.Time) *Override {
	var winner *Override
	for i := range candidates {
		o := &candidates[i]
		if !o.ActiveAt(now) || !appliesTo(o, tenantID) {
			continue
		}
		if winner == nil || outranks(o, winner, tenantID) {
			winner = o
		}
	}
	return winner
}

func appliesTo(o *Override, tenantID *int64) bool {
	return o.TenantID == nil || (tenantID != nil && *o.TenantID == *tenantID)
}

func outranks(a, b *Override, tenantID *int64) bool {
	aSpecific := a.TenantID != nil && tenantID != nil
	bSpecific := b.TenantID != nil && tenantID != nil
	if aSpecific != bSpecific {
		return aSpecific
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
