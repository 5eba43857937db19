package conversation_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autolumiku/wabot/internal/conversation"
	"github.com/autolumiku/wabot/internal/conversation/flow"
	"github.com/autolumiku/wabot/internal/db"
	"github.com/autolumiku/wabot/internal/inventory"
)

func setupConversationIntegrationTest(t *testing.T) (*conversation.DBService, string) {
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
	return conversation.NewService(logger, pool), "acct-" + uuid.NewString()
}

func TestConcurrentCreateYieldsOneActiveConversation(t *testing.T) {
	svc, account := setupConversationIntegrationTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := svc.Create(ctx, conversation.CreateInput{
				AccountID:       account,
				TenantID:        "t1",
				PrimaryIdentity: "628123456789",
			})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected a single conversation, got %v", ids)
		}
	}
}

func TestLinkAliasIsIdempotent(t *testing.T) {
	svc, account := setupConversationIntegrationTest(t)
	ctx := context.Background()

	conv, err := svc.Create(ctx, conversation.CreateInput{AccountID: account, TenantID: "t1", PrimaryIdentity: "628111", IsStaff: true, VerifiedPhone: "628111"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	first, err := svc.LinkAlias(ctx, conv.ID, "123456789012345", conversation.AliasDirectory)
	if err != nil || !first {
		t.Fatalf("first link: created=%v err=%v", first, err)
	}
	second, err := svc.LinkAlias(ctx, conv.ID, "123456789012345", conversation.AliasDirectory)
	if err != nil || second {
		t.Fatalf("second link: created=%v err=%v", second, err)
	}
	links, err := svc.Aliases(ctx, conv.ID)
	if err != nil {
		t.Fatalf("aliases: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected one alias edge, got %d", len(links))
	}

	found, err := svc.FindActiveStaffByAlias(ctx, account, "123456789012345")
	if err != nil {
		t.Fatalf("find by alias: %v", err)
	}
	if found.ID != conv.ID || !found.HasAlias("123456789012345") {
		t.Fatalf("unexpected conversation: %+v", found)
	}
}

func TestSaveFlowRoundTripAndRevoke(t *testing.T) {
	svc, account := setupConversationIntegrationTest(t)
	ctx := context.Background()

	conv, err := svc.Create(ctx, conversation.CreateInput{AccountID: account, TenantID: "t1", PrimaryIdentity: "628222"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.MarkStaff(ctx, conv.ID, "628222"); err != nil {
		t.Fatalf("mark staff: %v", err)
	}
	state := flow.NewUpload(time.Now())
	state.Upload.SetData(inventory.Draft{Make: "Honda", Model: "Brio", Year: 2020})
	if err := svc.SaveFlow(ctx, conv.ID, state); err != nil {
		t.Fatalf("save flow: %v", err)
	}
	got, err := svc.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsStaff || !got.Flow.InUpload() || got.Flow.Upload.VehicleData == nil {
		t.Fatalf("unexpected conversation after save: %+v", got)
	}
	if got.State() != "upload_vehicle:has_data_awaiting_photo" {
		t.Fatalf("unexpected state %q", got.State())
	}

	if err := svc.RevokeStaff(ctx, conv.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, err = svc.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsStaff || !got.Flow.IsIdle() {
		t.Fatalf("expected revoked idle conversation, got %+v", got)
	}
}

func TestGetMissingConversation(t *testing.T) {
	svc, _ := setupConversationIntegrationTest(t)
	_, err := svc.Get(context.Background(), uuid.NewString())
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
