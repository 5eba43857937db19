package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/autolumiku/wabot/internal/conversation"
	"github.com/autolumiku/wabot/internal/phone"
	"github.com/autolumiku/wabot/internal/staff"
)

// ErrNoSender is returned when a delivery carries no usable sender id.
var ErrNoSender = errors.New("cannot resolve identity: empty sender id")

// Resolution methods that are not alias link methods.
const (
	MethodPrimary = "primary"
	MethodAlias   = "alias"
	MethodCreated = "created"
)

// IdentityStore is the conversation surface identity resolution needs.
type IdentityStore interface {
	conversation.Lookup
	Create(ctx context.Context, input conversation.CreateInput) (conversation.Conversation, error)
	LinkAlias(ctx context.Context, conversationID, alias string, method conversation.AliasMethod) (bool, error)
}

// IdentityConfig tunes alias linking.
type IdentityConfig struct {
	CountryCode string
	// AliasRecency bounds the last-resort link of an unknown alias to the most
	// recently active staff conversation. Zero disables the heuristic.
	AliasRecency time.Duration
}

// Resolution is the conversation a sender maps to and how it was found.
type Resolution struct {
	Conversation conversation.Conversation
	// Method is MethodPrimary, MethodAlias, MethodCreated or the alias link
	// method used for a newly attached alias.
	Method string
	// SenderKey is the canonical form of the raw sender id.
	SenderKey string
}

// Linked reports whether resolution attached a new alias.
func (r Resolution) Linked() bool {
	switch r.Method {
	case MethodPrimary, MethodAlias, MethodCreated, "":
		return false
	}
	return true
}

// IdentityResolver maps raw WhatsApp sender ids, including unstable linked
// aliases, to exactly one canonical conversation.
type IdentityResolver struct {
	conversations IdentityStore
	directory     staff.Directory
	cfg           IdentityConfig
	logger        *slog.Logger
	now           func() time.Time
}

// NewIdentityResolver creates a resolver. A nil directory disables staff detection.
func NewIdentityResolver(log *slog.Logger, conversations IdentityStore, directory staff.Directory, cfg IdentityConfig) *IdentityResolver {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = phone.DefaultCountryCode
	}
	return &IdentityResolver{
		conversations: conversations,
		directory:     directory,
		cfg:           cfg,
		logger:        log.With(slog.String("component", "identity_resolver")),
		now:           time.Now,
	}
}

// Resolve finds or creates the conversation for rawSenderID on accountID:
//  1. active conversation whose primary identity is the canonical sender
//  2. for linked aliases: a staff conversation already holding the alias, then
//     the staff directory, then the most recent staff conversation
//  3. for phones: a staff conversation verified with that phone
//  4. a new conversation, created as staff when the directory lists the phone
func (r *IdentityResolver) Resolve(ctx context.Context, rawSenderID, accountID, tenantID string) (Resolution, error) {
	cc := r.cfg.CountryCode
	key := phone.CanonicalSender(rawSenderID, cc)
	if key == "" {
		return Resolution{}, ErrNoSender
	}
	res := Resolution{SenderKey: key}
	logger := r.logger.With(
		slog.String("account_id", accountID),
		slog.String("sender", phone.Mask(key)),
	)

	conv, err := r.find(r.conversations.FindActiveByIdentity(ctx, accountID, key))
	if err != nil {
		return res, fmt.Errorf("find by identity: %w", err)
	}
	if conv != nil {
		res.Conversation, res.Method = *conv, MethodPrimary
		return res, nil
	}

	roster := r.roster(ctx, tenantID, logger)

	if phone.IsLinkedAlias(rawSenderID, cc) {
		conv, err := r.find(r.conversations.FindActiveStaffByAlias(ctx, accountID, key))
		if err != nil {
			return res, fmt.Errorf("find by alias: %w", err)
		}
		if conv != nil {
			res.Conversation, res.Method = *conv, MethodAlias
			return res, nil
		}

		if member, ok := roster.ByAlias(rawSenderID); ok {
			verified := phone.Normalize(member.Phone, cc)
			conv, err := r.find(r.conversations.FindActiveStaffByVerifiedPhone(ctx, accountID, verified))
			if err != nil {
				return res, fmt.Errorf("find by verified phone: %w", err)
			}
			if conv != nil {
				return r.link(ctx, res, *conv, key, conversation.AliasDirectory, logger)
			}
			created, err := r.conversations.Create(ctx, conversation.CreateInput{
				AccountID:       accountID,
				TenantID:        tenantID,
				PrimaryIdentity: key,
				IsStaff:         true,
				VerifiedPhone:   verified,
			})
			if err != nil {
				return res, fmt.Errorf("create staff conversation: %w", err)
			}
			logger.Info("staff conversation created from directory alias", slog.String("staff", member.Name))
			res.Conversation, res.Method = created, MethodCreated
			return res, nil
		}

		if r.cfg.AliasRecency > 0 {
			since := r.now().Add(-r.cfg.AliasRecency)
			conv, err := r.find(r.conversations.MostRecentStaff(ctx, accountID, since))
			if err != nil {
				return res, fmt.Errorf("find recent staff: %w", err)
			}
			if conv != nil {
				logger.Warn("alias linked by recency",
					slog.String("conversation_id", conv.ID),
					slog.Time("last_message_at", conv.LastMessageAt),
				)
				return r.link(ctx, res, *conv, key, conversation.AliasRecency, logger)
			}
		}
	} else {
		conv, err := r.find(r.conversations.FindActiveStaffByVerifiedPhone(ctx, accountID, key))
		if err != nil {
			return res, fmt.Errorf("find by verified phone: %w", err)
		}
		if conv != nil {
			return r.link(ctx, res, *conv, key, conversation.AliasExact, logger)
		}
	}

	input := conversation.CreateInput{
		AccountID:       accountID,
		TenantID:        tenantID,
		PrimaryIdentity: key,
	}
	if !phone.IsLinkedAlias(rawSenderID, cc) {
		if member, ok := roster.ByPhone(key); ok {
			input.IsStaff = true
			input.VerifiedPhone = key
			logger.Info("staff conversation created from directory", slog.String("staff", member.Name))
		}
	}
	created, err := r.conversations.Create(ctx, input)
	if err != nil {
		return res, fmt.Errorf("create conversation: %w", err)
	}
	res.Conversation, res.Method = created, MethodCreated
	return res, nil
}

// LockKey returns the key that serializes resolution for rawSenderID. A linked
// alias listed in the staff directory shares the key of the staff phone, so a
// first message from the phone and one from its alias cannot create two
// conversations.
func (r *IdentityResolver) LockKey(ctx context.Context, rawSenderID, tenantID string) string {
	cc := r.cfg.CountryCode
	key := phone.CanonicalSender(rawSenderID, cc)
	if !phone.IsLinkedAlias(rawSenderID, cc) {
		return key
	}
	roster := r.roster(ctx, tenantID, r.logger)
	if member, ok := roster.ByAlias(rawSenderID); ok {
		if verified := phone.Normalize(member.Phone, cc); verified != "" {
			return verified
		}
	}
	return key
}

func (r *IdentityResolver) link(ctx context.Context, res Resolution, conv conversation.Conversation, alias string, method conversation.AliasMethod, logger *slog.Logger) (Resolution, error) {
	added, err := r.conversations.LinkAlias(ctx, conv.ID, alias, method)
	if err != nil {
		return res, fmt.Errorf("link alias: %w", err)
	}
	if added {
		conv.LinkedAliases = append(conv.LinkedAliases, alias)
		logger.Info("alias linked",
			slog.String("conversation_id", conv.ID),
			slog.String("method", string(method)),
		)
	}
	res.Conversation, res.Method = conv, string(method)
	return res, nil
}

func (r *IdentityResolver) roster(ctx context.Context, tenantID string, logger *slog.Logger) staff.Roster {
	empty := staff.Roster{CountryCode: r.cfg.CountryCode}
	if r.directory == nil || strings.TrimSpace(tenantID) == "" {
		return empty
	}
	roster, err := staff.Load(ctx, r.directory, tenantID, r.cfg.CountryCode)
	if err != nil {
		logger.Warn("staff directory unavailable", slog.String("tenant_id", tenantID), slog.Any("error", err))
		return empty
	}
	return roster
}

// find turns conversation.ErrNotFound into a nil result.
func (r *IdentityResolver) find(conv conversation.Conversation, err error) (*conversation.Conversation, error) {
	if errors.Is(err, conversation.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}
