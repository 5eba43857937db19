package dependencychecker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/autolumiku/wabot/internal/healthcheck"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckerListChecks(t *testing.T) {
	t.Parallel()

	ok := NewChecker(newTestLogger(), "postgres", PingFunc(func(context.Context) error { return nil }))
	items := ok.ListChecks(context.Background())
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].ID != "dependency.ping.postgres" || items[0].Status != healthcheck.StatusOK {
		t.Fatalf("unexpected item: %+v", items[0])
	}
	if _, found := items[0].Metadata["latency_ms"]; !found {
		t.Fatal("expected latency metadata")
	}
}

func TestCheckerFailure(t *testing.T) {
	t.Parallel()

	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	items := NewChecker(newTestLogger(), "gateway", down).ListChecks(context.Background())
	if items[0].Status != healthcheck.StatusError || items[0].Detail != "connection refused" {
		t.Fatalf("unexpected item: %+v", items[0])
	}

	items = NewChecker(newTestLogger(), "redis", down, Optional()).ListChecks(context.Background())
	if items[0].Status != healthcheck.StatusWarn {
		t.Fatalf("optional dependency should warn, got %s", items[0].Status)
	}
}

func TestCheckerNilPinger(t *testing.T) {
	t.Parallel()

	items := NewChecker(newTestLogger(), "nats", nil).ListChecks(context.Background())
	if len(items) != 1 || items[0].Status != healthcheck.StatusWarn {
		t.Fatalf("unexpected items: %+v", items)
	}
}
