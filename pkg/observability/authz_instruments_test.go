package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeterProvider(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

func TestAuthzInstruments_Record(t *testing.T) {
	reader := setupTestMeterProvider(t)

	inst, err := NewAuthzInstruments()
	if err != nil {
		t.Fatalf("NewAuthzInstruments() error = %v", err)
	}

	ctx := context.Background()
	inst.RecordDecision(ctx, 3*time.Millisecond, true, "role")
	inst.RecordCacheLoad(ctx, "memory")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}

	for _, name := range []string{"hub.authz.decision.duration", "hub.authz.cache.loads"} {
		if !found[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

func TestAuthzInstruments_NilSafe(t *testing.T) {
	var inst *AuthzInstruments
	inst.RecordDecision(context.Background(), time.Millisecond, false, "none")
	inst.RecordCacheLoad(context.Background(), "redis")
}
