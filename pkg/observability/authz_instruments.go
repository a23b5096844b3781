package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AuthzInstruments holds OpenTelemetry instruments for authorization decisions
type AuthzInstruments struct {
	decisionDuration metric.Float64Histogram
	cacheLoads       metric.Int64Counter
}

// NewAuthzInstruments creates the instruments on the global meter provider
func NewAuthzInstruments() (*AuthzInstruments, error) {
	meter := otel.Meter("github.com/platinummonkey/hub/pkg/rbac")

	decisionDuration, err := meter.Float64Histogram(
		"hub.authz.decision.duration",
		metric.WithDescription("Time spent answering a permission check"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision duration histogram: %w", err)
	}

	cacheLoads, err := meter.Int64Counter(
		"hub.authz.cache.loads",
		metric.WithDescription("Effective permission sets computed from the store"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache loads counter: %w", err)
	}

	return &AuthzInstruments{decisionDuration: decisionDuration, cacheLoads: cacheLoads}, nil
}

// RecordDecision records how long a decision took
func (a *AuthzInstruments) RecordDecision(ctx context.Context, elapsed time.Duration, allowed bool, source string) {
	if a == nil {
		return
	}
	a.decisionDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.Bool("allowed", allowed),
		attribute.String("source", source),
	))
}

// RecordCacheLoad counts a store computation of an effective permission set
func (a *AuthzInstruments) RecordCacheLoad(ctx context.Context, backend string) {
	if a == nil {
		return
	}
	a.cacheLoads.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}
