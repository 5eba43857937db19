// Package inbound runs the per-message pipeline: identity resolution, inbound
// persistence, flow state, intent routing, command or customer reply, and
// outbound delivery.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/autolumiku/wabot/internal/channel"
	"github.com/autolumiku/wabot/internal/command"
	"github.com/autolumiku/wabot/internal/conversation"
	"github.com/autolumiku/wabot/internal/conversation/flow"
	"github.com/autolumiku/wabot/internal/intent"
	"github.com/autolumiku/wabot/internal/inventory"
	"github.com/autolumiku/wabot/internal/keylock"
	messagepkg "github.com/autolumiku/wabot/internal/message"
	"github.com/autolumiku/wabot/internal/metrics"
	"github.com/autolumiku/wabot/internal/phone"
	"github.com/autolumiku/wabot/internal/staff"
)

const (
	apologyReply   = "Mohon maaf, terjadi kendala di sistem kami. Tim kami akan segera membantu Anda."
	cancelledReply = "Proses upload dibatalkan. Data dan foto yang belum tersimpan sudah dihapus."

	verificationCancelledReply = "Verifikasi dibatalkan."
)

// ErrInvalidMessage rejects deliveries missing the account or sender.
var ErrInvalidMessage = errors.New("invalid inbound message")

// ConversationStore is the conversation surface of the pipeline.
type ConversationStore interface {
	conversation.Lookup
	conversation.Writer
}

// MessageStore persists and reads messages.
type MessageStore interface {
	messagepkg.Writer
	ListLatest(ctx context.Context, conversationID string, limit int) ([]messagepkg.Message, error)
}

// VehicleLister supplies the inventory snapshot for customer replies.
type VehicleLister interface {
	List(ctx context.Context, filter inventory.Filter) ([]inventory.Vehicle, error)
}

// CommandExecutor runs staff commands and /verify.
type CommandExecutor interface {
	Execute(ctx context.Context, req command.Request) command.Response
}

// Deps are the processor collaborators. Classifier may be nil, which uses
// keyword classification. Responder may be nil, which uses TemplateResponder.
type Deps struct {
	Conversations ConversationStore
	Messages      MessageStore
	Vehicles      VehicleLister
	Directory     staff.Directory
	Classifier    intent.Classifier
	Responder     Responder
	Commands      CommandExecutor
	Sender        channel.Sender
	Locker        keylock.Locker
}

// Config tunes the processor.
type Config struct {
	CountryCode  string
	AliasRecency time.Duration
	// PublicBaseURL prefixes relative photo paths sent to customers.
	PublicBaseURL string
}

// Processor implements channel.Processor.
type Processor struct {
	deps     Deps
	cfg      Config
	identity *IdentityResolver
	keywords intent.KeywordClassifier
	logger   *slog.Logger
	now      func() time.Time
}

var _ channel.Processor = (*Processor)(nil)

// NewProcessor creates the inbound pipeline.
func NewProcessor(log *slog.Logger, deps Deps, cfg Config) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = phone.DefaultCountryCode
	}
	if deps.Locker == nil {
		deps.Locker = keylock.NewLocal()
	}
	if deps.Responder == nil {
		deps.Responder = TemplateResponder{}
	}
	return &Processor{
		deps: deps,
		cfg:  cfg,
		identity: NewIdentityResolver(log, deps.Conversations, deps.Directory, IdentityConfig{
			CountryCode:  cfg.CountryCode,
			AliasRecency: cfg.AliasRecency,
		}),
		logger: log.With(slog.String("component", "inbound_processor")),
		now:    time.Now,
	}
}

// ProcessIncomingMessage handles one delivery end to end. Work on one
// conversation is serialized; panics are turned into an apology and an
// escalation.
func (p *Processor) ProcessIncomingMessage(ctx context.Context, msg channel.IncomingMessage) (result channel.ProcessResult, err error) {
	start := p.now()
	defer metrics.ObserveProcess(start)

	msg.AccountID = strings.TrimSpace(msg.AccountID)
	if msg.AccountID == "" || strings.TrimSpace(msg.From) == "" {
		return channel.ProcessResult{Error: ErrInvalidMessage.Error()}, ErrInvalidMessage
	}
	logger := p.logger.With(
		slog.String("account_id", msg.AccountID),
		slog.String("tenant_id", msg.TenantID),
		slog.String("message_id", msg.MessageID),
	)

	var conv conversation.Conversation
	defer func() {
		if r := recover(); r != nil {
			logger.Error("inbound panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			result = p.handleFailure(context.WithoutCancel(ctx), logger, conv, msg, fmt.Errorf("panic: %v", r))
			err = nil
		}
	}()

	senderKey := p.identity.LockKey(ctx, msg.From, msg.TenantID)
	unlockSender, err := p.deps.Locker.Lock(ctx, "sender:"+msg.AccountID+":"+senderKey)
	if err != nil {
		return channel.ProcessResult{Error: err.Error()}, fmt.Errorf("lock sender: %w", err)
	}
	defer unlockSender()

	resolved, err := p.identity.Resolve(ctx, msg.From, msg.AccountID, msg.TenantID)
	if err != nil {
		logger.Error("identity resolution failed", slog.Any("error", err))
		return channel.ProcessResult{Error: err.Error()}, err
	}

	unlockConv, err := p.deps.Locker.Lock(ctx, "conversation:"+resolved.Conversation.ID)
	if err != nil {
		return channel.ProcessResult{Error: err.Error()}, fmt.Errorf("lock conversation: %w", err)
	}
	defer unlockConv()

	// Reload under the conversation lock: another sender key of the same
	// conversation may have changed it since resolution.
	conv, err = p.deps.Conversations.Get(ctx, resolved.Conversation.ID)
	if err != nil {
		return channel.ProcessResult{ConversationID: resolved.Conversation.ID, Error: err.Error()}, fmt.Errorf("load conversation: %w", err)
	}
	logger = logger.With(slog.String("conversation_id", conv.ID))

	return p.process(ctx, logger, conv, msg)
}

func (p *Processor) process(ctx context.Context, logger *slog.Logger, conv conversation.Conversation, msg channel.IncomingMessage) (channel.ProcessResult, error) {
	result := channel.ProcessResult{ConversationID: conv.ID}
	hasPhoto := msg.IsImage()

	stored, duplicate, err := p.deps.Messages.PersistInbound(ctx, messagepkg.InboundInput{
		ConversationID:    conv.ID,
		Sender:            msg.From,
		Content:           msg.Text,
		MediaURL:          msg.MediaURL,
		MediaType:         msg.MediaType,
		ExternalMessageID: msg.MessageID,
	})
	if err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("persist inbound: %w", err)
	}
	if duplicate {
		metrics.DuplicateDeliveriesTotal.Inc()
		logger.Info("duplicate delivery acknowledged")
		result.Success, result.Duplicate, result.Intent = true, true, stored.Intent
		return result, nil
	}

	decision := flow.Check(conv.Flow, flow.Input{Text: msg.Text, HasMedia: hasPhoto})
	resetKind := conv.Flow.Kind
	if decision.Reset {
		if err := p.deps.Conversations.ClearFlow(ctx, conv.ID); err != nil {
			result.Error = err.Error()
			return result, fmt.Errorf("reset flow: %w", err)
		}
		logger.Info("flow reset", slog.String("from", conv.State()), slog.String("reason", decision.Reason))
		conv.Flow = flow.Idle()
	}

	classified := p.classify(ctx, logger, conv, msg, hasPhoto)
	final, rule := intent.Route(intent.RouteInput{
		Text:     msg.Text,
		HasMedia: hasPhoto,
		IsStaff:  conv.IsStaff,
		Flow:     conv.Flow,
		Decision: decision,
		Result:   classified,
	})
	if decision.Reset && decision.Reason == flow.ReasonCancel {
		final = intent.FlowCancelled
	}
	result.Intent = string(final)
	metrics.InboundMessagesTotal.WithLabelValues(string(final)).Inc()
	logger = logger.With(slog.String("intent", string(final)))
	logger.Debug("routed", slog.String("rule", rule), slog.Float64("confidence", classified.Confidence))

	senderType := messagepkg.SenderCustomer
	if conv.IsStaff {
		senderType = messagepkg.SenderStaff
	}
	if err := p.deps.Messages.BackfillIntent(ctx, stored.ID, string(final), classified.Confidence, senderType); err != nil {
		logger.Warn("intent backfill failed", slog.Any("error", err))
	}

	var (
		text     string
		images   []string
		escalate bool
		outType  = messagepkg.SenderAI
	)
	switch {
	case final == intent.FlowCancelled:
		text = cancelledReply
		if resetKind == flow.KindVerification {
			text = verificationCancelledReply
		}
		outType = messagepkg.SenderStaff
	case final == intent.VerifyIdentity || final.IsStaff():
		resp := p.deps.Commands.Execute(ctx, command.Request{
			AccountID:    msg.AccountID,
			TenantID:     msg.TenantID,
			SenderID:     msg.From,
			Conversation: conv,
			Intent:       final,
			Text:         msg.Text,
			MediaURL:     msg.MediaURL,
			HasPhoto:     hasPhoto,
		})
		text, escalate = resp.Text, resp.Escalate
		outType = messagepkg.SenderStaff
		if resp.ConversationID != "" && resp.ConversationID != conv.ID {
			logger.Info("conversation merged", slog.String("into", resp.ConversationID))
			result.ConversationID = resp.ConversationID
		}
	default:
		reply, err := p.reply(ctx, conv, final, stored.ID, msg.Text)
		if err != nil {
			logger.Error("responder failed", slog.Any("error", err))
			reply = Reply{Text: apologyReply, ShouldEscalate: true}
		}
		text, images, escalate = reply.Text, reply.Images, reply.ShouldEscalate
		if reply.UploadRequest != nil && conv.IsStaff {
			resp := p.deps.Commands.Execute(ctx, command.Request{
				AccountID:    msg.AccountID,
				TenantID:     msg.TenantID,
				SenderID:     msg.From,
				Conversation: conv,
				Intent:       intent.StaffUploadVehicle,
				Text:         msg.Text,
				Draft:        reply.UploadRequest,
			})
			text, escalate = resp.Text, resp.Escalate
			outType = messagepkg.SenderStaff
		}
	}

	if escalate {
		if err := p.deps.Conversations.Escalate(ctx, result.ConversationID, conversation.EscalatedToHuman); err != nil {
			logger.Error("escalation failed", slog.Any("error", err))
		}
		result.Escalated = true
	}

	delivered := p.deliver(ctx, logger, result.ConversationID, msg, outType, text, images)
	result.ResponseText = text
	result.Success = delivered
	if !delivered {
		result.Error = channel.ErrSendFailed.Error()
	}

	if err := p.deps.Conversations.Touch(ctx, result.ConversationID, conversation.Summary{
		LastIntent:   string(final),
		CustomerName: strings.TrimSpace(msg.PushName),
		At:           p.now(),
	}); err != nil {
		logger.Warn("touch conversation failed", slog.Any("error", err))
	}
	return result, nil
}

func (p *Processor) classify(ctx context.Context, logger *slog.Logger, conv conversation.Conversation, msg channel.IncomingMessage, hasPhoto bool) intent.Result {
	input := intent.ClassifyInput{
		Text:       msg.Text,
		SenderID:   msg.From,
		TenantID:   msg.TenantID,
		HasMedia:   hasPhoto,
		KnownStaff: conv.IsStaff,
	}
	if p.deps.Classifier != nil {
		res, err := p.deps.Classifier.Classify(ctx, input)
		if err == nil {
			return res
		}
		logger.Warn("classifier failed, using keywords", slog.Any("error", err))
	}
	res, _ := p.keywords.Classify(ctx, input)
	return res
}

func (p *Processor) reply(ctx context.Context, conv conversation.Conversation, final intent.Intent, currentID, text string) (Reply, error) {
	cc := ConversationContext{Conversation: conv, Intent: final}
	history, err := p.deps.Messages.ListLatest(ctx, conv.ID, historyLimit+1)
	if err != nil {
		return Reply{}, fmt.Errorf("load history: %w", err)
	}
	for _, m := range history {
		if m.ID != currentID {
			cc.History = append(cc.History, m)
		}
	}
	if len(cc.History) > historyLimit {
		cc.History = cc.History[len(cc.History)-historyLimit:]
	}
	if p.deps.Vehicles != nil {
		vehicles, err := p.deps.Vehicles.List(ctx, inventory.Filter{
			TenantID: conv.TenantID,
			Status:   inventory.StatusAvailable,
			Limit:    inventoryLimit,
		})
		if err != nil {
			return Reply{}, fmt.Errorf("load inventory: %w", err)
		}
		cc.Vehicles = vehicles
	}
	return p.deps.Responder.Generate(ctx, cc, text)
}

// deliver sends images first, then text, and persists the text with its
// delivery outcome. It reports whether the text reached the gateway.
func (p *Processor) deliver(ctx context.Context, logger *slog.Logger, conversationID string, msg channel.IncomingMessage, senderType, text string, images []string) bool {
	for _, image := range images {
		url := p.mediaURL(image)
		sent, err := p.deps.Sender.SendMedia(ctx, msg.AccountID, msg.From, url, "")
		out := messagepkg.OutboundInput{
			ConversationID:    conversationID,
			Sender:            msg.AccountID,
			MediaURL:          url,
			MediaType:         "image",
			SenderType:        senderType,
			ExternalMessageID: sent.MessageID,
		}
		if err != nil {
			logger.Warn("send media failed", slog.String("url", url), slog.Any("error", err))
			out.DeliveryStatus, out.DeliveryError = messagepkg.DeliveryFailed, err.Error()
		}
		if _, err := p.deps.Messages.PersistOutbound(ctx, out); err != nil {
			logger.Error("persist outbound media failed", slog.Any("error", err))
		}
	}
	if strings.TrimSpace(text) == "" {
		return true
	}

	sent, sendErr := p.deps.Sender.Send(ctx, msg.AccountID, msg.From, text)
	out := messagepkg.OutboundInput{
		ConversationID:    conversationID,
		Sender:            msg.AccountID,
		Content:           text,
		SenderType:        senderType,
		ExternalMessageID: sent.MessageID,
		DeliveryStatus:    messagepkg.DeliverySent,
	}
	if sendErr != nil {
		logger.Error("send reply failed", slog.Any("error", sendErr))
		out.DeliveryStatus, out.DeliveryError = messagepkg.DeliveryFailed, sendErr.Error()
	}
	// The outcome is recorded even when the caller is gone.
	if _, err := p.deps.Messages.PersistOutbound(context.WithoutCancel(ctx), out); err != nil {
		logger.Error("persist outbound failed", slog.Any("error", err))
	}
	return sendErr == nil
}

// handleFailure answers an internal failure with an apology and escalates.
func (p *Processor) handleFailure(ctx context.Context, logger *slog.Logger, conv conversation.Conversation, msg channel.IncomingMessage, cause error) channel.ProcessResult {
	if conv.ID == "" {
		return channel.ProcessResult{Error: cause.Error()}
	}
	if err := p.deps.Conversations.Escalate(ctx, conv.ID, conversation.EscalatedToHuman); err != nil {
		logger.Error("escalation failed", slog.Any("error", err))
	}
	p.deliver(ctx, logger, conv.ID, msg, messagepkg.SenderAI, apologyReply, nil)
	return channel.ProcessResult{
		ConversationID: conv.ID,
		ResponseText:   apologyReply,
		Escalated:      true,
		Error:          cause.Error(),
	}
}

func (p *Processor) mediaURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || p.cfg.PublicBaseURL == "" {
		return ref
	}
	return strings.TrimRight(p.cfg.PublicBaseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}
