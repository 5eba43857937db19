package inbound

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/autolumiku/wabot/internal/channel"
	"github.com/autolumiku/wabot/internal/commandlog"
	"github.com/autolumiku/wabot/internal/conversation"
	"github.com/autolumiku/wabot/internal/conversation/flow"
	"github.com/autolumiku/wabot/internal/inventory"
	"github.com/autolumiku/wabot/internal/media"
	messagepkg "github.com/autolumiku/wabot/internal/message"
	"github.com/autolumiku/wabot/internal/staff"
)

type fakeConversations struct {
	mu      sync.Mutex
	seq     int
	convs   map[string]*conversation.Conversation
	links   []conversation.AliasLink
	cleared []string
	now     func() time.Time
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{convs: map[string]*conversation.Conversation{}, now: time.Now}
}

func clone(c *conversation.Conversation) conversation.Conversation {
	out := *c
	out.LinkedAliases = slices.Clone(c.LinkedAliases)
	return out
}

func (f *fakeConversations) match(pred func(c *conversation.Conversation) bool) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *conversation.Conversation
	for _, c := range f.convs {
		if c.Status != conversation.StatusActive || !pred(c) {
			continue
		}
		if best == nil || c.LastMessageAt.After(best.LastMessageAt) {
			best = c
		}
	}
	if best == nil {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return clone(best), nil
}

func (f *fakeConversations) Get(_ context.Context, id string) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return clone(c), nil
}

func (f *fakeConversations) FindActiveByIdentity(_ context.Context, accountID, identity string) (conversation.Conversation, error) {
	return f.match(func(c *conversation.Conversation) bool {
		return c.AccountID == accountID && c.PrimaryIdentity == identity
	})
}

func (f *fakeConversations) FindActiveStaffByAlias(_ context.Context, accountID, alias string) (conversation.Conversation, error) {
	return f.match(func(c *conversation.Conversation) bool {
		return c.AccountID == accountID && c.IsStaff && slices.Contains(c.LinkedAliases, alias)
	})
}

func (f *fakeConversations) FindActiveStaffByVerifiedPhone(_ context.Context, accountID, phone string) (conversation.Conversation, error) {
	return f.match(func(c *conversation.Conversation) bool {
		return c.AccountID == accountID && c.IsStaff && c.VerifiedPhone == phone
	})
}

func (f *fakeConversations) FindActiveByPhone(_ context.Context, accountID, phone string) (conversation.Conversation, error) {
	return f.match(func(c *conversation.Conversation) bool {
		return c.AccountID == accountID && (c.PrimaryIdentity == phone || c.VerifiedPhone == phone)
	})
}

func (f *fakeConversations) MostRecentStaff(_ context.Context, accountID string, since time.Time) (conversation.Conversation, error) {
	return f.match(func(c *conversation.Conversation) bool {
		return c.AccountID == accountID && c.IsStaff && !c.LastMessageAt.Before(since)
	})
}

func (f *fakeConversations) Create(_ context.Context, input conversation.CreateInput) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.Status == conversation.StatusActive && c.AccountID == input.AccountID && c.PrimaryIdentity == input.PrimaryIdentity {
			return clone(c), nil
		}
	}
	f.seq++
	now := f.now()
	c := &conversation.Conversation{
		ID:               fmt.Sprintf("conv-%d", f.seq),
		AccountID:        input.AccountID,
		TenantID:         input.TenantID,
		PrimaryIdentity:  input.PrimaryIdentity,
		VerifiedPhone:    input.VerifiedPhone,
		IsStaff:          input.IsStaff,
		ConversationType: conversation.TypeCustomer,
		Flow:             flow.Idle(),
		Status:           conversation.StatusActive,
		CustomerName:     input.CustomerName,
		LastMessageAt:    now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if input.IsStaff {
		c.ConversationType = conversation.TypeStaff
	}
	f.convs[c.ID] = c
	return clone(c), nil
}

func (f *fakeConversations) LinkAlias(_ context.Context, conversationID, alias string, method conversation.AliasMethod) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[conversationID]
	if !ok {
		return false, conversation.ErrNotFound
	}
	if slices.Contains(c.LinkedAliases, alias) {
		return false, nil
	}
	c.LinkedAliases = append(c.LinkedAliases, alias)
	f.links = append(f.links, conversation.AliasLink{ConversationID: conversationID, Alias: alias, Method: method})
	return true, nil
}

func (f *fakeConversations) update(id string, fn func(c *conversation.Conversation)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return conversation.ErrNotFound
	}
	fn(c)
	return nil
}

func (f *fakeConversations) SaveFlow(_ context.Context, id string, state flow.Context) error {
	return f.update(id, func(c *conversation.Conversation) { c.Flow = state })
}

func (f *fakeConversations) ClearFlow(_ context.Context, id string) error {
	return f.update(id, func(c *conversation.Conversation) {
		c.Flow = flow.Idle()
		f.cleared = append(f.cleared, id)
	})
}

func (f *fakeConversations) MarkStaff(_ context.Context, id, verifiedPhone string) error {
	return f.update(id, func(c *conversation.Conversation) {
		c.IsStaff = true
		c.ConversationType = conversation.TypeStaff
		c.VerifiedPhone = verifiedPhone
	})
}

func (f *fakeConversations) Close(_ context.Context, id string) error {
	return f.update(id, func(c *conversation.Conversation) { c.Status = conversation.StatusClosed })
}

func (f *fakeConversations) Touch(_ context.Context, id string, summary conversation.Summary) error {
	return f.update(id, func(c *conversation.Conversation) {
		c.LastIntent = summary.LastIntent
		c.LastMessageAt = summary.At
		if c.CustomerName == "" {
			c.CustomerName = summary.CustomerName
		}
	})
}

func (f *fakeConversations) Escalate(_ context.Context, id, to string) error {
	return f.update(id, func(c *conversation.Conversation) {
		now := f.now()
		c.EscalatedTo = to
		c.EscalatedAt = &now
	})
}

func (f *fakeConversations) mustGet(id string) conversation.Conversation {
	c, err := f.Get(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return c
}

func (f *fakeConversations) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.convs)
}

type fakeMessages struct {
	mu   sync.Mutex
	seq  int
	rows []messagepkg.Message
}

func (f *fakeMessages) PersistInbound(_ context.Context, input messagepkg.InboundInput) (messagepkg.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if input.ExternalMessageID != "" {
		for _, m := range f.rows {
			if m.Direction == messagepkg.DirectionInbound && m.ConversationID == input.ConversationID && m.ExternalMessageID == input.ExternalMessageID {
				return m, true, nil
			}
		}
	}
	f.seq++
	m := messagepkg.Message{
		ID:                fmt.Sprintf("msg-%d", f.seq),
		ConversationID:    input.ConversationID,
		Direction:         messagepkg.DirectionInbound,
		Sender:            input.Sender,
		Content:           input.Content,
		MediaURL:          input.MediaURL,
		ExternalMessageID: input.ExternalMessageID,
		SenderType:        messagepkg.SenderCustomer,
		DeliveryStatus:    messagepkg.DeliveryReceived,
	}
	f.rows = append(f.rows, m)
	return m, false, nil
}

func (f *fakeMessages) PersistOutbound(_ context.Context, input messagepkg.OutboundInput) (messagepkg.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m := messagepkg.Message{
		ID:             fmt.Sprintf("msg-%d", f.seq),
		ConversationID: input.ConversationID,
		Direction:      messagepkg.DirectionOutbound,
		Content:        input.Content,
		MediaURL:       input.MediaURL,
		SenderType:     input.SenderType,
		DeliveryStatus: input.DeliveryStatus,
		DeliveryError:  input.DeliveryError,
	}
	f.rows = append(f.rows, m)
	return m, nil
}

func (f *fakeMessages) BackfillIntent(_ context.Context, messageID, intent string, confidence float64, senderType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == messageID && f.rows[i].Intent == "" {
			f.rows[i].Intent = intent
			f.rows[i].Confidence = confidence
			f.rows[i].SenderType = senderType
		}
	}
	return nil
}

func (f *fakeMessages) ListLatest(_ context.Context, conversationID string, limit int) ([]messagepkg.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []messagepkg.Message
	for _, m := range f.rows {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessages) outbound() []messagepkg.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []messagepkg.Message
	for _, m := range f.rows {
		if m.Direction == messagepkg.DirectionOutbound {
			out = append(out, m)
		}
	}
	return out
}

type fakeInventory struct {
	mu       sync.Mutex
	vehicles []inventory.Vehicle
	convs    *fakeConversations
	writes   int
}

func (f *fakeInventory) Create(ctx context.Context, input inventory.CreateInput) (inventory.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.vehicles {
		if strings.EqualFold(v.Make, input.Draft.Make) && strings.EqualFold(v.Model, input.Draft.Model) &&
			v.Year == input.Draft.Year && !v.CreatedAt.Before(input.DuplicateSince) {
			return inventory.Vehicle{}, &inventory.DuplicateError{Existing: v}
		}
	}
	f.writes++
	d := input.Draft
	v := inventory.Vehicle{
		ID:        fmt.Sprintf("veh-%d", len(f.vehicles)+1),
		DisplayID: fmt.Sprintf("AB%04d", len(f.vehicles)+1),
		TenantID:  input.TenantID,
		Make:      d.Make,
		Model:     d.Model,
		Year:      d.Year,
		Price:     d.Price,
		Color:     d.Color,
		Status:    inventory.StatusAvailable,
		Photos:    input.Photos,
		CreatedBy: input.CreatedBy,
		CreatedAt: time.Now(),
	}
	f.vehicles = append(f.vehicles, v)
	if input.ResetConversationID != "" {
		if err := f.convs.ClearFlow(ctx, input.ResetConversationID); err != nil {
			return inventory.Vehicle{}, err
		}
	}
	return v, nil
}

func (f *fakeInventory) FindByDisplayID(_ context.Context, tenantID, displayID string) (inventory.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.vehicles {
		if v.TenantID == tenantID && v.DisplayID == displayID {
			return v, nil
		}
	}
	return inventory.Vehicle{}, inventory.ErrVehicleNotFound
}

func (f *fakeInventory) UpdateStatus(_ context.Context, change inventory.StatusChange) (inventory.Vehicle, inventory.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range f.vehicles {
		if v.TenantID == change.TenantID && v.DisplayID == change.DisplayID {
			from := v.Status
			f.vehicles[i].Status = change.Status
			f.writes++
			return f.vehicles[i], from, nil
		}
	}
	return inventory.Vehicle{}, "", inventory.ErrVehicleNotFound
}

func (f *fakeInventory) Edit(_ context.Context, input inventory.EditInput) (inventory.Vehicle, error) {
	return inventory.Vehicle{}, inventory.ErrVehicleNotFound
}

func (f *fakeInventory) List(_ context.Context, filter inventory.Filter) ([]inventory.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []inventory.Vehicle
	for _, v := range f.vehicles {
		if v.TenantID == filter.TenantID && (filter.Status == "" || v.Status == filter.Status) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeInventory) Stats(_ context.Context, tenantID string, since time.Time) (inventory.Stats, error) {
	return inventory.Stats{TenantID: tenantID, Since: since, InventoryValue: decimal.Zero}, nil
}

type fakeDirectory struct {
	members []staff.Member
}

func (f fakeDirectory) ListUsers(_ context.Context, tenantID string) ([]staff.Member, error) {
	var out []staff.Member
	for _, m := range f.members {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	return out, nil
}

func testDirectory() fakeDirectory {
	return fakeDirectory{members: []staff.Member{
		{ID: "s1", TenantID: "t1", Phone: "628111000111", Name: "Andi", Role: staff.RoleOwner, Aliases: []string{"123456789012345@lid"}},
		{ID: "s2", TenantID: "t1", Phone: "628222000222", Name: "Budi", Role: staff.RoleSales},
		{ID: "s3", TenantID: "t1", Phone: "628333000333", Name: "Citra", Role: staff.RoleSales},
	}}
}

type fakeLogs struct {
	mu      sync.Mutex
	entries []commandlog.Entry
}

func (f *fakeLogs) Record(_ context.Context, entry commandlog.Entry) (commandlog.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return entry, nil
}

type fakePhotos struct{}

func (fakePhotos) Fetch(_ context.Context, tenantID, url string) (media.Photo, error) {
	name := url[strings.LastIndex(url, "/")+1:]
	return media.Photo{StorageKey: tenantID + "/vehicles/" + name, AccessPath: "/media/" + tenantID + "/vehicles/" + name}, nil
}

type sent struct {
	To    string
	Text  string
	Media string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	fail bool
}

func (f *fakeSender) Send(_ context.Context, _, to, text string) (channel.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return channel.SendResult{}, fmt.Errorf("%w: gateway down", channel.ErrSendFailed)
	}
	f.sent = append(f.sent, sent{To: to, Text: text})
	return channel.SendResult{MessageID: fmt.Sprintf("out-%d", len(f.sent))}, nil
}

func (f *fakeSender) SendMedia(_ context.Context, _, to, url, caption string) (channel.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return channel.SendResult{}, fmt.Errorf("%w: gateway down", channel.ErrSendFailed)
	}
	f.sent = append(f.sent, sent{To: to, Text: caption, Media: url})
	return channel.SendResult{MessageID: fmt.Sprintf("out-%d", len(f.sent))}, nil
}

func (f *fakeSender) to(recipient string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sent {
		if s.To == recipient {
			out = append(out, s)
		}
	}
	return out
}
