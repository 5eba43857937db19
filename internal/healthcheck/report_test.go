package healthcheck

import (
	"context"
	"testing"
)

type testChecker struct {
	items []CheckResult
}

func (c *testChecker) ListChecks(ctx context.Context) []CheckResult {
	return c.items
}

func TestAggregatorWorstStatusWins(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(
		&testChecker{items: []CheckResult{{ID: "postgres", Status: StatusOK}}},
		nil,
		&testChecker{items: []CheckResult{{ID: "queue", Status: StatusWarn}}},
	)
	report := agg.Run(context.Background())
	if report.Status != StatusWarn {
		t.Fatalf("expected warn, got %s", report.Status)
	}
	if !report.Healthy() {
		t.Fatal("warnings should not fail readiness")
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}

	agg = NewAggregator(
		&testChecker{items: []CheckResult{{ID: "gateway", Status: StatusError}}},
		&testChecker{items: []CheckResult{{ID: "redis"}}},
	)
	report = agg.Run(context.Background())
	if report.Status != StatusError || report.Healthy() {
		t.Fatalf("expected failing report, got %+v", report)
	}
	if report.Checks[1].Status != StatusUnknown {
		t.Fatalf("expected empty status to become unknown, got %q", report.Checks[1].Status)
	}
}

func TestAggregatorEmpty(t *testing.T) {
	t.Parallel()

	report := NewAggregator().Run(context.Background())
	if report.Status != StatusOK || len(report.Checks) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
