package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/autolumiku/wabot/internal/channel"
	"github.com/autolumiku/wabot/internal/commandlog"
	"github.com/autolumiku/wabot/internal/conversation"
	"github.com/autolumiku/wabot/internal/healthcheck"
	messagepkg "github.com/autolumiku/wabot/internal/message"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type registrar interface {
	Register(e *echo.Echo)
}

func serve(t *testing.T, h registrar, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.Register(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type fakeQueue struct {
	msgs []channel.IncomingMessage
	err  error
}

func (q *fakeQueue) Enqueue(msg channel.IncomingMessage) error {
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

const webhookBody = `{"event":"messages.upsert","messages":[
	{"id":"wamid.1","from":"6281234567890@s.whatsapp.net","text":"ada brio?"},
	{"id":"wamid.2","from":"6281234567890@s.whatsapp.net","from_me":true,"text":"echo"}
]}`

func TestWebhookQueuesMessages(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	h := NewWebhookHandler(newTestLogger(), queue, WebhookConfig{
		Secret: "s3cret",
		Tenant: func(accountID string) string { return "tenant-" + accountID },
	})
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/acct-1", strings.NewReader(webhookBody))
	req.Header.Set(webhookSecretHeader, "s3cret")
	rec := serve(t, h, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if len(queue.msgs) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(queue.msgs))
	}
	if queue.msgs[0].AccountID != "acct-1" || queue.msgs[0].TenantID != "tenant-acct-1" {
		t.Fatalf("unexpected routing: %+v", queue.msgs[0])
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	h := NewWebhookHandler(newTestLogger(), queue, WebhookConfig{Secret: "s3cret"})
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/acct-1", strings.NewReader(webhookBody))
	req.Header.Set(webhookSecretHeader, "nope")
	rec := serve(t, h, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(queue.msgs) != 0 {
		t.Fatal("nothing should be queued")
	}
}

func TestWebhookErrors(t *testing.T) {
	t.Parallel()

	h := NewWebhookHandler(newTestLogger(), &fakeQueue{}, WebhookConfig{})
	rec := serve(t, h, httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/acct-1", strings.NewReader("[")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", rec.Code)
	}

	h = NewWebhookHandler(newTestLogger(), &fakeQueue{err: channel.ErrQueueFull}, WebhookConfig{})
	rec = serve(t, h, httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/acct-1", strings.NewReader(webhookBody)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("full queue: expected 503, got %d", rec.Code)
	}
}

type fakeConversations struct {
	items   map[string]conversation.Conversation
	revoked []string
}

func (f *fakeConversations) Get(_ context.Context, id string) (conversation.Conversation, error) {
	conv, ok := f.items[id]
	if !ok {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return conv, nil
}

func (f *fakeConversations) ListByTenant(_ context.Context, tenantID string, limit int) ([]conversation.Conversation, error) {
	out := []conversation.Conversation{}
	for _, conv := range f.items {
		if conv.TenantID == tenantID && len(out) < limit {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (f *fakeConversations) Aliases(_ context.Context, id string) ([]conversation.AliasLink, error) {
	return []conversation.AliasLink{{ConversationID: id, Alias: "123@lid", Method: conversation.AliasVerify}}, nil
}

func (f *fakeConversations) RevokeStaff(_ context.Context, id string) error {
	f.revoked = append(f.revoked, id)
	return nil
}

type fakeMessages struct {
	messagepkg.Reader
	items []messagepkg.Message
}

func (f *fakeMessages) ListByConversation(_ context.Context, conversationID string, _ int) ([]messagepkg.Message, error) {
	return f.items, nil
}

func newConversationHandler() (*ConversationHandler, *fakeConversations) {
	convs := &fakeConversations{items: map[string]conversation.Conversation{
		"c1": {ID: "c1", TenantID: "t1", PrimaryIdentity: "628111", IsStaff: true},
		"c2": {ID: "c2", TenantID: "t2", PrimaryIdentity: "628222"},
	}}
	msgs := &fakeMessages{items: []messagepkg.Message{{ID: "m1", ConversationID: "c1", Content: "halo"}}}
	return NewConversationHandler(newTestLogger(), convs, msgs), convs
}

func TestConversationList(t *testing.T) {
	t.Parallel()

	h, _ := newConversationHandler()
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/conversations", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing tenant: expected 400, got %d", rec.Code)
	}

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/conversations?tenant=t1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body map[string][]conversation.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body["items"]) != 1 || body["items"][0].ID != "c1" {
		t.Fatalf("unexpected items: %+v", body)
	}
}

func TestConversationGetAndMessages(t *testing.T) {
	t.Parallel()

	h, _ := newConversationHandler()
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/conversations/c1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var detail ConversationDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.ID != "c1" || len(detail.Aliases) != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/conversations/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"halo"`) {
		t.Fatalf("unexpected messages response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestConversationRevokeStaff(t *testing.T) {
	t.Parallel()

	h, convs := newConversationHandler()
	rec := serve(t, h, httptest.NewRequest(http.MethodPost, "/conversations/c1/revoke-staff", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if len(convs.revoked) != 1 || convs.revoked[0] != "c1" {
		t.Fatalf("unexpected revokes: %v", convs.revoked)
	}
}

type fakeCommandLogs struct{}

func (fakeCommandLogs) ListByTenant(_ context.Context, tenantID string, _ int) ([]commandlog.Entry, error) {
	return []commandlog.Entry{{ID: "l1", TenantID: tenantID, Command: "upload_vehicle", Success: true}}, nil
}

func TestCommandLogList(t *testing.T) {
	t.Parallel()

	h := NewCommandLogHandler(newTestLogger(), fakeCommandLogs{})
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/command-logs?tenant=t1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "upload_vehicle") {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Body.String())
	}
}

type fakeMedia map[string][]byte

func (f fakeMedia) Open(_ context.Context, key string) ([]byte, string, error) {
	data, ok := f[key]
	if !ok {
		return nil, "", fmt.Errorf("open file: %w", fs.ErrNotExist)
	}
	return data, "image/jpeg", nil
}

func TestMediaServe(t *testing.T) {
	t.Parallel()

	h := NewMediaHandler(newTestLogger(), fakeMedia{"t1/vehicles/ab/abcd.jpg": []byte("jpeg")})
	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/media/t1/vehicles/ab/abcd.jpg", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "image/jpeg" || rec.Body.String() != "jpeg" {
		t.Fatalf("unexpected body: %q %q", rec.Header().Get("Content-Type"), rec.Body.String())
	}

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/media/t1/missing.jpg", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type fixedReadiness healthcheck.Report

func (r fixedReadiness) Run(context.Context) healthcheck.Report { return healthcheck.Report(r) }

func TestHealth(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewPingHandler(newTestLogger(), nil), httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ping: unexpected status %d", rec.Code)
	}

	failing := fixedReadiness{Status: healthcheck.StatusError, Checks: []healthcheck.CheckResult{{ID: "postgres", Status: healthcheck.StatusError}}}
	rec = serve(t, NewPingHandler(newTestLogger(), failing), httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	rec = serve(t, NewPingHandler(newTestLogger(), nil), httptest.NewRequest(http.MethodHead, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("head health: unexpected status %d", rec.Code)
	}
}
