package inventory_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/autolumiku/wabot/internal/db"
	"github.com/autolumiku/wabot/internal/inventory"
)

func setupInventoryIntegrationTest(t *testing.T) (*inventory.DBService, *pgxpool.Pool, string) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}
	t.Cleanup(pool.Close)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if err := db.Migrate(logger, dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	tenantID := "it-" + uuid.NewString()
	return inventory.NewService(logger, pool), pool, tenantID
}

func brio() inventory.Draft {
	return inventory.Draft{Make: "Honda", Model: "Brio", Year: 2020, Price: decimal.NewFromInt(120_000_000), Color: "hitam"}
}

func TestCreateWritesHistoryAndRejectsDuplicate(t *testing.T) {
	svc, pool, tenantID := setupInventoryIntegrationTest(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, inventory.CreateInput{
		TenantID:       tenantID,
		Draft:          brio(),
		Photos:         []string{"/media/a.jpg"},
		CreatedBy:      "628111",
		DuplicateSince: time.Now().Add(-10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(created.DisplayID) != inventory.DisplayIDLength || created.Status != inventory.StatusAvailable {
		t.Fatalf("unexpected vehicle: %+v", created)
	}

	history, err := svc.History(ctx, created.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Action != inventory.ActionCreated {
		t.Fatalf("expected one created history row, got %+v", history)
	}

	_, err = svc.Create(ctx, inventory.CreateInput{
		TenantID:       tenantID,
		Draft:          brio(),
		CreatedBy:      "628111",
		DuplicateSince: time.Now().Add(-10 * time.Minute),
	})
	var dup *inventory.DuplicateError
	if !errors.As(err, &dup) || dup.Existing.DisplayID != created.DisplayID {
		t.Fatalf("expected duplicate of %s, got %v", created.DisplayID, err)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM vehicles WHERE tenant_id = $1`, tenantID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one vehicle, got %d", count)
	}
}

func TestUpdateStatusMissingVehicle(t *testing.T) {
	svc, _, tenantID := setupInventoryIntegrationTest(t)
	_, _, err := svc.UpdateStatus(context.Background(), inventory.StatusChange{
		TenantID: tenantID, DisplayID: "ABC123", Status: inventory.StatusSold, Actor: "628111",
	})
	if !errors.Is(err, inventory.ErrVehicleNotFound) {
		t.Fatalf("expected ErrVehicleNotFound, got %v", err)
	}
}

func TestUpdateStatusAndStats(t *testing.T) {
	svc, _, tenantID := setupInventoryIntegrationTest(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, inventory.CreateInput{TenantID: tenantID, Draft: brio(), CreatedBy: "628111"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	updated, previous, err := svc.UpdateStatus(ctx, inventory.StatusChange{
		TenantID: tenantID, DisplayID: created.DisplayID, Status: inventory.StatusSold, Actor: "628111",
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if previous != inventory.StatusAvailable || updated.Status != inventory.StatusSold {
		t.Fatalf("unexpected transition %s -> %s", previous, updated.Status)
	}
	stats, err := svc.Stats(ctx, tenantID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Sold != 1 || stats.SoldInPeriod != 1 || stats.AddedInPeriod != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
