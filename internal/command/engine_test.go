package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autolumiku/wabot/internal/commandlog"
	"github.com/autolumiku/wabot/internal/conversation"
	"github.com/autolumiku/wabot/internal/conversation/flow"
	"github.com/autolumiku/wabot/internal/intent"
	"github.com/autolumiku/wabot/internal/inventory"
	"github.com/autolumiku/wabot/internal/media"
	"github.com/autolumiku/wabot/internal/notify"
	"github.com/autolumiku/wabot/internal/staff"
)

type fakeInventory struct {
	mu        sync.Mutex
	vehicles  []inventory.Vehicle
	calls     int
	convs     *fakeConversations
	panicList bool
}

func (f *fakeInventory) Create(_ context.Context, input inventory.CreateInput) (inventory.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if !input.DuplicateSince.IsZero() {
		for _, v := range f.vehicles {
			if strings.EqualFold(v.Make, input.Draft.Make) && strings.EqualFold(v.Model, input.Draft.Model) &&
				v.Year == input.Draft.Year && !v.CreatedAt.Before(input.DuplicateSince) {
				return inventory.Vehicle{}, &inventory.DuplicateError{Existing: v}
			}
		}
	}
	d := input.Draft
	v := inventory.Vehicle{
		ID:        fmt.Sprintf("veh-%d", len(f.vehicles)+1),
		DisplayID: fmt.Sprintf("UNT%03d", len(f.vehicles)+1),
		TenantID:  input.TenantID,
		Make:      d.Make,
		Model:     d.Model,
		Variant:   d.Variant,
		Year:      d.Year,
		Price:     d.Price,
		Color:     d.Color,
		Status:    inventory.StatusAvailable,
		Photos:    append([]string(nil), input.Photos...),
		CreatedBy: input.CreatedBy,
		CreatedAt: time.Now(),
	}
	f.vehicles = append(f.vehicles, v)
	if input.ResetConversationID != "" && f.convs != nil {
		f.convs.reset(input.ResetConversationID)
	}
	return v, nil
}

func (f *fakeInventory) find(displayID string) (int, bool) {
	for i, v := range f.vehicles {
		if v.DisplayID == displayID {
			return i, true
		}
	}
	return -1, false
}

func (f *fakeInventory) FindByDisplayID(_ context.Context, _ string, displayID string) (inventory.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	i, ok := f.find(displayID)
	if !ok {
		return inventory.Vehicle{}, inventory.ErrVehicleNotFound
	}
	return f.vehicles[i], nil
}

func (f *fakeInventory) UpdateStatus(_ context.Context, change inventory.StatusChange) (inventory.Vehicle, inventory.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	i, ok := f.find(change.DisplayID)
	if !ok {
		return inventory.Vehicle{}, "", inventory.ErrVehicleNotFound
	}
	from := f.vehicles[i].Status
	f.vehicles[i].Status = change.Status
	return f.vehicles[i], from, nil
}

func (f *fakeInventory) Edit(_ context.Context, input inventory.EditInput) (inventory.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	i, ok := f.find(input.DisplayID)
	if !ok {
		return inventory.Vehicle{}, inventory.ErrVehicleNotFound
	}
	if input.Field == inventory.FieldColor {
		f.vehicles[i].Color = fmt.Sprint(input.Value)
	}
	return f.vehicles[i], nil
}

func (f *fakeInventory) List(_ context.Context, filter inventory.Filter) ([]inventory.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panicList {
		panic("list exploded")
	}
	out := []inventory.Vehicle{}
	for _, v := range f.vehicles {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeInventory) Stats(_ context.Context, tenantID string, since time.Time) (inventory.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return inventory.Stats{TenantID: tenantID, Since: since, Total: len(f.vehicles), Available: len(f.vehicles), ByMake: map[string]int{}}, nil
}

type aliasEdge struct {
	conversationID string
	alias          string
	method         conversation.AliasMethod
}

type fakeConversations struct {
	mu      sync.Mutex
	flows   map[string]flow.Context
	saves   int
	clears  int
	staff   map[string]string
	links   []aliasEdge
	closed  []string
	byPhone map[string]conversation.Conversation
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		flows:   map[string]flow.Context{},
		staff:   map[string]string{},
		byPhone: map[string]conversation.Conversation{},
	}
}

func (f *fakeConversations) reset(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flows[id] = flow.Idle()
}

func (f *fakeConversations) flow(id string) flow.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flows[id]
}

func (f *fakeConversations) SaveFlow(_ context.Context, id string, state flow.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.flows[id] = state
	return nil
}

func (f *fakeConversations) ClearFlow(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.flows[id] = flow.Idle()
	return nil
}

func (f *fakeConversations) FindActiveByPhone(_ context.Context, _ string, phone string) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.byPhone[phone]
	if !ok {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return conv, nil
}

func (f *fakeConversations) LinkAlias(_ context.Context, id, alias string, method conversation.AliasMethod) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, edge := range f.links {
		if edge.conversationID == id && edge.alias == alias {
			return false, nil
		}
	}
	f.links = append(f.links, aliasEdge{conversationID: id, alias: alias, method: method})
	return true, nil
}

func (f *fakeConversations) MarkStaff(_ context.Context, id, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staff[id] = phone
	return nil
}

func (f *fakeConversations) Close(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	return nil
}

type fakeDirectory struct {
	members []staff.Member
}

func (d fakeDirectory) ListUsers(context.Context, string) ([]staff.Member, error) {
	return d.members, nil
}

type fakeLogs struct {
	mu      sync.Mutex
	entries []commandlog.Entry
}

func (l *fakeLogs) Record(_ context.Context, entry commandlog.Entry) (commandlog.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return entry, nil
}

type fakePhotos struct{}

func (fakePhotos) Fetch(_ context.Context, tenantID, url string) (media.Photo, error) {
	if strings.HasPrefix(url, "fail://") {
		return media.Photo{}, fmt.Errorf("%w: gateway timeout", media.ErrDownloadFailed)
	}
	return media.Photo{StorageKey: tenantID + "/" + url, AccessPath: "/media/" + tenantID + "/" + url}, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	outcomes []notify.Outcome
}

func (p *fakePublisher) Publish(_ context.Context, o notify.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return nil
}

type harness struct {
	engine *Engine
	inv    *fakeInventory
	convs  *fakeConversations
	logs   *fakeLogs
	pub    *fakePublisher
}

func newHarness(t *testing.T, cfg Config, extractor Extractor) *harness {
	t.Helper()
	convs := newFakeConversations()
	h := &harness{
		inv:   &fakeInventory{convs: convs},
		convs: convs,
		logs:  &fakeLogs{},
		pub:   &fakePublisher{},
	}
	h.engine = NewEngine(nil, Deps{
		Inventory:     h.inv,
		Conversations: convs,
		Directory: fakeDirectory{members: []staff.Member{
			{ID: "1", TenantID: "t1", Phone: "628111000111", Name: "Andi", Role: staff.RoleOwner},
			{ID: "2", TenantID: "t1", Phone: "628222000222", Name: "Budi", Role: staff.RoleSales},
		}},
		Logs:      h.logs,
		Photos:    fakePhotos{},
		Publisher: h.pub,
		Extractor: extractor,
	}, cfg)
	return h
}

func staffConversation() conversation.Conversation {
	return conversation.Conversation{
		ID:              "conv-1",
		AccountID:       "acct",
		TenantID:        "t1",
		PrimaryIdentity: "628111000111",
		VerifiedPhone:   "628111000111",
		IsStaff:         true,
	}
}

// send runs one message through the engine with the flow persisted so far.
func (h *harness) send(conv conversation.Conversation, i intent.Intent, text, photoURL string) Response {
	conv.Flow = h.convs.flow(conv.ID)
	return h.engine.Execute(context.Background(), Request{
		AccountID:    conv.AccountID,
		TenantID:     conv.TenantID,
		SenderID:     conv.PrimaryIdentity,
		Conversation: conv,
		Intent:       i,
		Text:         text,
		MediaURL:     photoURL,
		HasPhoto:     photoURL != "",
	})
}

func TestUploadReconcilesExactlyOnceInAnyOrder(t *testing.T) {
	type step struct {
		text  string
		photo string
	}
	cases := []struct {
		name  string
		steps []step
	}{
		{name: "data then photo", steps: []step{{text: "Brio 2020 120jt hitam"}, {photo: "p1.jpg"}}},
		{name: "photo then data", steps: []step{{photo: "p1.jpg"}, {text: "Brio 2020 120jt hitam"}}},
		{name: "both in one message", steps: []step{{text: "Brio 2020 120jt hitam", photo: "p1.jpg"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Config{}, nil)
			conv := staffConversation()
			var last Response
			for i, s := range tc.steps {
				last = h.send(conv, intent.StaffUploadVehicle, s.text, s.photo)
				if !last.Success {
					t.Fatalf("step %d failed: %q", i, last.Text)
				}
				if i < len(tc.steps)-1 && len(h.inv.vehicles) != 0 {
					t.Fatalf("vehicle created before both fragments arrived")
				}
			}
			if len(h.inv.vehicles) != 1 {
				t.Fatalf("expected exactly one vehicle, got %d", len(h.inv.vehicles))
			}
			v := h.inv.vehicles[0]
			if v.Make != "Honda" || v.Model != "Brio" || v.Year != 2020 || v.Color != "hitam" || len(v.Photos) != 1 {
				t.Fatalf("unexpected vehicle %+v", v)
			}
			if !h.convs.flow(conv.ID).IsIdle() {
				t.Fatalf("flow should be idle, got %s", h.convs.flow(conv.ID).State())
			}
			if !strings.Contains(last.Text, v.DisplayID) || last.VehicleID != v.ID {
				t.Fatalf("reply should name the new id: %q", last.Text)
			}
			if len(h.pub.outcomes) != 1 || h.pub.outcomes[0].Kind != notify.KindVehicleCreated || h.pub.outcomes[0].ActingPhone != "628111000111" {
				t.Fatalf("unexpected outcomes %+v", h.pub.outcomes)
			}
			if len(h.logs.entries) != len(tc.steps) {
				t.Fatalf("expected one log per message, got %d", len(h.logs.entries))
			}

			// Another photo after reconciliation starts a fresh flow instead of a second create.
			again := h.send(conv, intent.StaffUploadVehicle, "", "p2.jpg")
			if !again.Success || len(h.inv.vehicles) != 1 {
				t.Fatalf("late photo must not create again: %q vehicles=%d", again.Text, len(h.inv.vehicles))
			}
		})
	}
}

func TestUploadStagesDataAndAsksForPhoto(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := staffConversation()

	resp := h.send(conv, intent.StaffUploadVehicle, "Brio 2020 120jt hitam", "")
	if !resp.Success || !strings.Contains(resp.Text, "kirim foto") {
		t.Fatalf("unexpected reply %q", resp.Text)
	}
	state := h.convs.flow(conv.ID)
	if state.State() != "upload_vehicle:has_data_awaiting_photo" {
		t.Fatalf("unexpected state %s", state.State())
	}
}

func TestUploadSuppressesDuplicate(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := staffConversation()

	first := h.send(conv, intent.StaffUploadVehicle, "Brio 2020 120jt hitam", "p1.jpg")
	if !first.Success || len(h.inv.vehicles) != 1 {
		t.Fatalf("first upload failed: %q", first.Text)
	}
	second := h.send(conv, intent.StaffUploadVehicle, "Brio 2020 125jt putih", "p2.jpg")
	if !second.Success {
		t.Fatalf("duplicate prevention is a success, got %q", second.Text)
	}
	if len(h.inv.vehicles) != 1 {
		t.Fatalf("duplicate created: %d vehicles", len(h.inv.vehicles))
	}
	if !strings.Contains(second.Text, h.inv.vehicles[0].DisplayID) {
		t.Fatalf("reply should name the existing id: %q", second.Text)
	}
	if !h.convs.flow(conv.ID).IsIdle() {
		t.Fatal("flow should be cleared after a duplicate")
	}
	if len(h.pub.outcomes) != 1 {
		t.Fatalf("duplicates must not notify, got %d outcomes", len(h.pub.outcomes))
	}
}

func TestUnauthorizedSenderIsRejectedWithoutWrites(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := conversation.Conversation{ID: "conv-x", AccountID: "acct", TenantID: "t1", PrimaryIdentity: "628999000999"}

	for _, tc := range []struct {
		intent intent.Intent
		text   string
	}{
		{intent.StaffUpdateStatus, "/status ABC123 SOLD"},
		{intent.StaffUploadVehicle, "Brio 2020 120jt hitam"},
	} {
		before := len(h.logs.entries)
		resp := h.send(conv, tc.intent, tc.text, "")
		if resp.Text != UnauthorizedReply || resp.Success || resp.Escalate {
			t.Fatalf("unexpected response %+v", resp)
		}
		if len(h.logs.entries) != before+1 || h.logs.entries[before].Success {
			t.Fatalf("expected one failed log row, got %+v", h.logs.entries[before:])
		}
	}
	if h.inv.calls != 0 || h.convs.saves != 0 || len(h.pub.outcomes) != 0 {
		t.Fatalf("unauthorized commands wrote: inventory=%d saves=%d outcomes=%d", h.inv.calls, h.convs.saves, len(h.pub.outcomes))
	}
}

func TestLinkedAliasWithoutVerifiedPhoneIsUnauthorized(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := conversation.Conversation{ID: "conv-lid", AccountID: "acct", TenantID: "t1", PrimaryIdentity: "123456789012345", IsStaff: true}

	resp := h.send(conv, intent.StaffCheckInventory, "/list", "")
	if resp.Text != UnauthorizedReply {
		t.Fatalf("expected rejection, got %q", resp.Text)
	}
}

func TestStatusOnMissingVehicle(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	resp := h.send(staffConversation(), intent.StaffUpdateStatus, "/status ABC123 SOLD", "")
	if resp.Success || resp.Escalate || !strings.Contains(resp.Text, "ABC123") {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(h.logs.entries) != 1 {
		t.Fatalf("expected one log row, got %d", len(h.logs.entries))
	}
	entry := h.logs.entries[0]
	if entry.Success || entry.Command != string(NameStatus) || !strings.Contains(string(entry.Parameters), "ABC123") {
		t.Fatalf("unexpected log entry %+v", entry)
	}
}

func TestStatusChangePublishesOutcome(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := staffConversation()
	h.send(conv, intent.StaffUploadVehicle, "Brio 2020 120jt hitam", "p1.jpg")
	id := h.inv.vehicles[0].DisplayID

	resp := h.send(conv, intent.StaffUpdateStatus, "laku "+strings.ToLower(id), "")
	if !resp.Success || h.inv.vehicles[0].Status != inventory.StatusSold {
		t.Fatalf("status not updated: %q", resp.Text)
	}
	last := h.pub.outcomes[len(h.pub.outcomes)-1]
	if last.Kind != notify.KindStatusChanged || last.FromStatus != inventory.StatusAvailable {
		t.Fatalf("unexpected outcome %+v", last)
	}
	if h.logs.entries[len(h.logs.entries)-1].VehicleID != h.inv.vehicles[0].ID {
		t.Fatal("log should link the vehicle")
	}
}

func TestExtractorFailureFallsBackToRules(t *testing.T) {
	failing := ExtractorFunc(func(context.Context, string) (inventory.Draft, error) {
		return inventory.Draft{}, errors.New("model unavailable")
	})
	h := newHarness(t, Config{}, failing)
	conv := staffConversation()

	resp := h.send(conv, intent.StaffUploadVehicle, "/upload Toyota Avanza G 2019 matic 165jt 45000km silver", "")
	if !resp.Success {
		t.Fatalf("fallback failed: %q", resp.Text)
	}
	data := h.convs.flow(conv.ID).Upload.VehicleData
	if data == nil || data.Make != "Toyota" || data.Model != "Avanza" || data.Variant != "G" || data.Mileage != 45000 {
		t.Fatalf("unexpected staged data %+v", data)
	}
}

func TestUnparseableUploadListsFields(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	resp := h.send(staffConversation(), intent.StaffUploadVehicle, "upload yang kemarin", "")
	if resp.Success || !strings.Contains(resp.Text, "Field yang dikenali") || !strings.Contains(resp.Text, "Brio 2020 120jt hitam") {
		t.Fatalf("unexpected reply %q", resp.Text)
	}
	if h.convs.saves != 0 {
		t.Fatal("nothing should be staged")
	}
}

func TestPhotoFailureKeepsFlow(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := staffConversation()
	h.send(conv, intent.StaffUploadVehicle, "Brio 2020 120jt hitam", "")

	resp := h.send(conv, intent.StaffUploadVehicle, "", "fail://p1.jpg")
	if !resp.Success || !strings.Contains(resp.Text, "kirim ulang") {
		t.Fatalf("unexpected reply %q", resp.Text)
	}
	if len(h.inv.vehicles) != 0 {
		t.Fatal("vehicle must wait for a photo")
	}
	if got := h.convs.flow(conv.ID).State(); got != "upload_vehicle:has_data_awaiting_photo" {
		t.Fatalf("flow changed to %s", got)
	}
}

func TestPhotoLimit(t *testing.T) {
	h := newHarness(t, Config{MaxPhotos: 2}, nil)
	conv := staffConversation()
	for i := 1; i <= 3; i++ {
		resp := h.send(conv, intent.StaffUploadVehicle, "", fmt.Sprintf("p%d.jpg", i))
		if i == 3 && !strings.Contains(resp.Text, "Maksimal 2 foto") {
			t.Fatalf("expected limit message, got %q", resp.Text)
		}
	}
	if got := len(h.convs.flow(conv.ID).Upload.Photos); got != 2 {
		t.Fatalf("expected 2 staged photos, got %d", got)
	}
}

func TestIncompleteDataIsNotCreated(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := staffConversation()

	resp := h.send(conv, intent.StaffUploadVehicle, "Brio hitam", "p1.jpg")
	if resp.Success || !strings.Contains(resp.Text, "tahun") || !strings.Contains(resp.Text, "harga") {
		t.Fatalf("unexpected reply %q", resp.Text)
	}
	if len(h.inv.vehicles) != 0 {
		t.Fatal("incomplete data must not be created")
	}
	if !h.convs.flow(conv.ID).InUpload() {
		t.Fatal("staged fragments must be kept")
	}
	resp = h.send(conv, intent.StaffUploadVehicle, "2020 120jt", "")
	if !resp.Success || len(h.inv.vehicles) != 1 {
		t.Fatalf("completion should create: %q", resp.Text)
	}
}

func TestPanicIsRecoveredAndLogged(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.inv.panicList = true

	resp := h.send(staffConversation(), intent.StaffCheckInventory, "/list", "")
	if resp.Text != InternalReply || !resp.Escalate || resp.Success {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(h.logs.entries) != 1 || h.logs.entries[0].Success {
		t.Fatalf("expected one failed log row, got %+v", h.logs.entries)
	}
}

func TestVerifyBindsAliasToDirectoryPhone(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := conversation.Conversation{ID: "conv-lid", AccountID: "acct", TenantID: "t1", PrimaryIdentity: "123456789012345"}

	resp := h.send(conv, intent.VerifyIdentity, "/verify 0822-2000-222", "")
	if !resp.Success || !strings.Contains(resp.Text, "Budi") || !strings.Contains(resp.Text, "Sales") {
		t.Fatalf("unexpected reply %q", resp.Text)
	}
	if h.convs.staff["conv-lid"] != "628222000222" {
		t.Fatalf("conversation not marked staff: %v", h.convs.staff)
	}
	if len(h.convs.links) != 1 || h.convs.links[0].alias != "123456789012345" || h.convs.links[0].method != conversation.AliasVerify {
		t.Fatalf("unexpected links %+v", h.convs.links)
	}
}

func TestVerifyMergesIntoExistingPhoneConversation(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.convs.byPhone["628222000222"] = conversation.Conversation{ID: "conv-phone", PrimaryIdentity: "628222000222", IsStaff: true, VerifiedPhone: "628222000222"}
	conv := conversation.Conversation{ID: "conv-lid", AccountID: "acct", TenantID: "t1", PrimaryIdentity: "123456789012345"}

	resp := h.send(conv, intent.VerifyIdentity, "/verify 628222000222", "")
	if !resp.Success || resp.ConversationID != "conv-phone" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(h.convs.closed) != 1 || h.convs.closed[0] != "conv-lid" {
		t.Fatalf("alias conversation should be closed: %v", h.convs.closed)
	}
	if len(h.convs.links) != 1 || h.convs.links[0].conversationID != "conv-phone" {
		t.Fatalf("alias should attach to the phone conversation: %+v", h.convs.links)
	}
}

func TestVerifyRejectsUnknownPhone(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := conversation.Conversation{ID: "conv-lid", AccountID: "acct", TenantID: "t1", PrimaryIdentity: "123456789012345"}

	resp := h.send(conv, intent.VerifyIdentity, "/verify 0899 1234 5678", "")
	if resp.Success || !strings.Contains(resp.Text, "tidak terdaftar") {
		t.Fatalf("unexpected reply %q", resp.Text)
	}
	if len(h.logs.entries) != 1 || h.logs.entries[0].Success || h.logs.entries[0].Command != string(NameVerify) {
		t.Fatalf("expected one failed verify log, got %+v", h.logs.entries)
	}
	if len(h.convs.staff) != 0 {
		t.Fatal("nothing should be marked staff")
	}
}

func TestVerifyRejectsPhoneSenderClaimingOtherNumber(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := conversation.Conversation{ID: "conv-cust", AccountID: "acct", TenantID: "t1", PrimaryIdentity: "6289999000999"}

	resp := h.send(conv, intent.VerifyIdentity, "/verify 08222000222", "")
	if resp.Success || !strings.Contains(resp.Text, "Verifikasi gagal") {
		t.Fatalf("unexpected reply %q", resp.Text)
	}
	if len(h.convs.staff) != 0 || len(h.convs.links) != 0 {
		t.Fatalf("nothing should be bound: staff=%v links=%+v", h.convs.staff, h.convs.links)
	}
	if len(h.logs.entries) != 1 || h.logs.entries[0].Success || !strings.Contains(h.logs.entries[0].Result, ErrPhoneMismatch.Error()) {
		t.Fatalf("expected one failed verify log, got %+v", h.logs.entries)
	}
}

func TestVerifyLeavesUploadFlowUntouched(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := staffConversation()
	h.send(conv, intent.StaffUploadVehicle, "Brio 2020 120jt hitam", "")
	before := h.convs.flow(conv.ID).State()

	resp := h.send(conv, intent.VerifyIdentity, "/verify 628111000111", "")
	if !resp.Success {
		t.Fatalf("verify failed: %q", resp.Text)
	}
	if got := h.convs.flow(conv.ID).State(); got != before || h.convs.clears != 0 {
		t.Fatalf("flow changed from %s to %s", before, got)
	}
}

func TestBareVerifyAwaitsPhone(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conv := conversation.Conversation{ID: "conv-lid", AccountID: "acct", TenantID: "t1", PrimaryIdentity: "123456789012345"}

	h.send(conv, intent.VerifyIdentity, "/verify", "")
	if !h.convs.flow(conv.ID).AwaitingVerification() {
		t.Fatal("expected verification flow")
	}
	resp := h.send(conv, intent.VerifyIdentity, "081 1100 0111", "")
	if !resp.Success || !h.convs.flow(conv.ID).IsIdle() {
		t.Fatalf("verification should complete and clear the flow: %q", resp.Text)
	}
}
