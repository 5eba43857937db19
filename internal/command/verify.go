package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/autolumiku/wabot/internal/conversation"
	"github.com/autolumiku/wabot/internal/conversation/flow"
	"github.com/autolumiku/wabot/internal/phone"
	"github.com/autolumiku/wabot/internal/staff"
)

const verifyUsage = "Kirim nomor WhatsApp staff Anda, contoh: /verify 081234567890. Ketik batal untuk membatalkan."

type verifyParams struct {
	Phone string `json:"phone"`
	Alias string `json:"alias,omitempty"`
}

// verify binds the sender to a directory phone. It runs in any flow state and
// leaves an open upload untouched.
func (e *Engine) verify(ctx context.Context, req Request, att *attempt) (Response, error) {
	conv := req.Conversation
	arg := StripPrefix(NameVerify, req.Text)
	if arg == "" {
		if conv.Flow.IsIdle() {
			if err := e.deps.Conversations.SaveFlow(ctx, conv.ID, flow.NewVerification(e.now())); err != nil {
				return Response{}, fmt.Errorf("save verification flow: %w", err)
			}
		}
		return Response{Text: verifyUsage}, nil
	}
	if len(phone.Digits(arg)) < 8 {
		return Response{}, userInput("Nomor %q tidak valid. %s", arg, verifyUsage)
	}
	normalized := phone.Normalize(arg, e.cfg.CountryCode)
	sender := req.SenderID
	if sender == "" {
		sender = conv.PrimaryIdentity
	}
	alias := phone.CanonicalSender(sender, e.cfg.CountryCode)
	att.entry.StaffPhone = normalized
	att.params = verifyParams{Phone: normalized, Alias: alias}

	// A stable phone sender can only claim its own number. Only linked aliases,
	// which carry no phone, bind to a phone they name.
	if !phone.IsLinkedAlias(sender, e.cfg.CountryCode) && alias != normalized {
		return Response{}, &UserInputError{
			Message: "Verifikasi gagal. Kirim /verify dari nomor WhatsApp staff yang terdaftar.",
			Err:     ErrPhoneMismatch,
		}
	}

	roster, err := staff.Load(ctx, e.deps.Directory, req.TenantID, e.cfg.CountryCode)
	if err != nil {
		return Response{}, fmt.Errorf("load staff roster: %w", err)
	}
	member, ok := roster.ByPhone(normalized)
	if !ok {
		return Response{}, &UserInputError{
			Message: fmt.Sprintf("Nomor %s tidak terdaftar sebagai staff. Hubungi admin showroom.", phone.Mask(normalized)),
			Err:     staff.ErrNotStaff,
		}
	}

	target := conv.ID
	owner, err := e.deps.Conversations.FindActiveByPhone(ctx, req.AccountID, normalized)
	switch {
	case err == nil && owner.ID != conv.ID && phone.IsLinkedAlias(conv.PrimaryIdentity, e.cfg.CountryCode):
		if _, err := e.deps.Conversations.LinkAlias(ctx, owner.ID, alias, conversation.AliasVerify); err != nil {
			return Response{}, fmt.Errorf("link alias: %w", err)
		}
		if !owner.IsStaff || owner.VerifiedPhone != normalized {
			if err := e.deps.Conversations.MarkStaff(ctx, owner.ID, normalized); err != nil {
				return Response{}, fmt.Errorf("mark staff: %w", err)
			}
		}
		if err := e.deps.Conversations.Close(ctx, conv.ID); err != nil {
			return Response{}, fmt.Errorf("close alias conversation: %w", err)
		}
		target = owner.ID
	case err == nil || errors.Is(err, conversation.ErrNotFound):
		if err := e.deps.Conversations.MarkStaff(ctx, conv.ID, normalized); err != nil {
			return Response{}, fmt.Errorf("mark staff: %w", err)
		}
		if alias != normalized {
			if _, err := e.deps.Conversations.LinkAlias(ctx, conv.ID, alias, conversation.AliasVerify); err != nil {
				return Response{}, fmt.Errorf("link alias: %w", err)
			}
		}
		if conv.Flow.AwaitingVerification() {
			if err := e.deps.Conversations.ClearFlow(ctx, conv.ID); err != nil {
				return Response{}, fmt.Errorf("clear verification flow: %w", err)
			}
		}
	default:
		return Response{}, fmt.Errorf("find conversation by phone: %w", err)
	}

	return Response{
		Text: fmt.Sprintf("Verifikasi berhasil. Halo %s (%s), nomor %s terhubung sebagai staff.",
			member.Name, member.Role.Label(), phone.Mask(normalized)),
		ConversationID: target,
	}, nil
}
