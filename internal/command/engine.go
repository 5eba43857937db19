// Package command executes staff commands: parse, authorize, execute, log.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/autolumiku/wabot/internal/commandlog"
	"github.com/autolumiku/wabot/internal/conversation"
	"github.com/autolumiku/wabot/internal/conversation/flow"
	"github.com/autolumiku/wabot/internal/intent"
	"github.com/autolumiku/wabot/internal/inventory"
	"github.com/autolumiku/wabot/internal/media"
	"github.com/autolumiku/wabot/internal/metrics"
	"github.com/autolumiku/wabot/internal/notify"
	"github.com/autolumiku/wabot/internal/phone"
	"github.com/autolumiku/wabot/internal/staff"
)

// Conversations is the conversation surface the engine writes to.
type Conversations interface {
	SaveFlow(ctx context.Context, conversationID string, state flow.Context) error
	ClearFlow(ctx context.Context, conversationID string) error
	FindActiveByPhone(ctx context.Context, accountID, phone string) (conversation.Conversation, error)
	LinkAlias(ctx context.Context, conversationID, alias string, method conversation.AliasMethod) (bool, error)
	MarkStaff(ctx context.Context, conversationID, verifiedPhone string) error
	Close(ctx context.Context, conversationID string) error
}

// Config tunes command behavior.
type Config struct {
	CountryCode     string
	DuplicateWindow time.Duration
	MaxPhotos       int
	Location        *time.Location
}

// Deps are the engine collaborators. Extractor may be nil.
type Deps struct {
	Inventory     inventory.Store
	Conversations Conversations
	Directory     staff.Directory
	Logs          commandlog.Recorder
	Photos        media.PhotoStore
	Publisher     notify.Publisher
	Extractor     Extractor
}

// Request is one staff command attempt.
type Request struct {
	AccountID    string
	TenantID     string
	SenderID     string
	Conversation conversation.Conversation
	Intent       intent.Intent
	Text         string
	MediaURL     string
	HasPhoto     bool
	// Draft is structured vehicle data proposed by the responder. It is staged as
	// a data fragment instead of parsing Text.
	Draft *inventory.Draft
}

// Response is the chat reply and outcome of an attempt.
type Response struct {
	Command   Name
	Text      string
	Success   bool
	Escalate  bool
	VehicleID string
	// ConversationID is set when verification moved the sender into another conversation.
	ConversationID string
}

// Engine runs staff commands and writes exactly one command log row per attempt.
type Engine struct {
	deps     Deps
	rules    RuleExtractor
	cfg      Config
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a command engine.
func NewEngine(log *slog.Logger, deps Deps, cfg Config) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = phone.DefaultCountryCode
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 10 * time.Minute
	}
	if cfg.MaxPhotos <= 0 {
		cfg.MaxPhotos = flow.DefaultMaxPhotos
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.Discard
	}
	e := &Engine{
		deps:     deps,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.With(slog.String("service", "command")),
		now:      time.Now,
	}
	e.rules = RuleExtractor{Now: func() time.Time { return e.now() }}
	return e
}

type attempt struct {
	entry  commandlog.Entry
	params any
}

// Execute runs the command named by req.Intent. It never returns an error: every
// failure is folded into the reply and the command log.
func (e *Engine) Execute(ctx context.Context, req Request) (resp Response) {
	name, ok := NameFor(req.Intent)
	if !ok {
		name = NameHelp
	}
	att := &attempt{entry: commandlog.Entry{
		TenantID:       req.TenantID,
		ConversationID: req.Conversation.ID,
		Command:        string(name),
	}}
	logger := e.logger.With(
		slog.String("conversation_id", req.Conversation.ID),
		slog.String("tenant_id", req.TenantID),
		slog.String("command", string(name)),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("command panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			resp = e.respond(logger, name, att, Response{}, fmt.Errorf("%w: panic: %v", ErrInternal, r))
		}
		e.record(ctx, logger, att)
		metrics.ObserveCommand(string(name), att.entry.Success)
	}()

	if name == NameVerify {
		out, err := e.verify(ctx, req, att)
		return e.respond(logger, name, att, out, err)
	}
	member, err := e.authorize(ctx, req, att)
	if err != nil {
		return e.respond(logger, name, att, Response{}, err)
	}
	out, err := e.dispatch(ctx, name, req, member, att)
	return e.respond(logger, name, att, out, err)
}

// authorize resolves the sender phone from the verified phone or the normalized
// primary identity. A bare linked alias never authorizes.
func (e *Engine) authorize(ctx context.Context, req Request, att *attempt) (staff.Member, error) {
	conv := req.Conversation
	senderPhone := conv.VerifiedPhone
	if senderPhone == "" && !phone.IsLinkedAlias(conv.PrimaryIdentity, e.cfg.CountryCode) {
		senderPhone = phone.Normalize(conv.PrimaryIdentity, e.cfg.CountryCode)
	}
	att.entry.StaffPhone = senderPhone
	if senderPhone == "" {
		return staff.Member{}, ErrNotAuthorized
	}
	roster, err := staff.Load(ctx, e.deps.Directory, req.TenantID, e.cfg.CountryCode)
	if err != nil {
		return staff.Member{}, fmt.Errorf("load staff roster: %w", err)
	}
	member, ok := roster.ByPhone(senderPhone)
	if !ok {
		return staff.Member{}, ErrNotAuthorized
	}
	return member, nil
}

func (e *Engine) dispatch(ctx context.Context, name Name, req Request, member staff.Member, att *attempt) (Response, error) {
	args := StripPrefix(name, req.Text)
	switch name {
	case NameUpload:
		return e.upload(ctx, req, member, att)
	case NameStatus:
		return e.updateStatus(ctx, req, member, args, att)
	case NameList:
		return e.list(ctx, req, args, att)
	case NameStats:
		return e.stats(ctx, req, args, att)
	case NameEdit:
		return e.edit(ctx, req, member, args, att)
	default:
		return Response{Text: HelpText()}, nil
	}
}

func (e *Engine) updateStatus(ctx context.Context, req Request, member staff.Member, args string, att *attempt) (Response, error) {
	params, err := ParseStatus(args)
	if err != nil {
		return Response{}, err
	}
	att.params = params
	if err := e.check(params); err != nil {
		return Response{}, err
	}
	vehicle, from, err := e.deps.Inventory.UpdateStatus(ctx, inventory.StatusChange{
		TenantID:  req.TenantID,
		DisplayID: params.DisplayID,
		Status:    params.Status,
		Actor:     member.Phone,
	})
	switch {
	case errors.Is(err, inventory.ErrVehicleNotFound):
		return Response{}, &UserInputError{Message: fmt.Sprintf("Kendaraan dengan ID %s tidak ditemukan.", params.DisplayID), Err: err}
	case errors.Is(err, inventory.ErrInvalidStatus):
		return Response{}, &UserInputError{Message: statusUsage, Err: err}
	case err != nil:
		return Response{}, fmt.Errorf("update status: %w", err)
	}
	att.entry.VehicleID = vehicle.ID
	e.publish(ctx, notify.Outcome{
		Kind:        notify.KindStatusChanged,
		TenantID:    req.TenantID,
		AccountID:   req.AccountID,
		ActingPhone: member.Phone,
		ActorName:   member.Name,
		Vehicle:     &vehicle,
		FromStatus:  from,
		At:          e.now(),
	})
	return Response{
		Text:      fmt.Sprintf("Status %s (%s) diubah dari %s ke %s.", vehicle.Draft().Title(), vehicle.DisplayID, from, vehicle.Status),
		VehicleID: vehicle.ID,
	}, nil
}

func (e *Engine) list(ctx context.Context, req Request, args string, att *attempt) (Response, error) {
	params := ParseList(args)
	att.params = params
	if err := e.check(params); err != nil {
		return Response{}, err
	}
	vehicles, err := e.deps.Inventory.List(ctx, inventory.Filter{
		TenantID: req.TenantID,
		Status:   params.Status,
		Make:     params.Make,
		Limit:    20,
	})
	if err != nil {
		return Response{}, fmt.Errorf("list vehicles: %w", err)
	}
	if len(vehicles) == 0 {
		return Response{Text: "Belum ada unit yang cocok."}, nil
	}
	lines := make([]string, 0, len(vehicles)+1)
	lines = append(lines, fmt.Sprintf("Daftar unit (%d):", len(vehicles)))
	for i, v := range vehicles {
		lines = append(lines, fmt.Sprintf("%d. [%s] %s - %s - %s", i+1, v.DisplayID, v.Draft().Title(), inventory.ShortPrice(v.Price), v.Status))
	}
	return Response{Text: strings.Join(lines, "\n")}, nil
}

var periodTitles = map[string]string{
	"today": "Ringkasan hari ini",
	"week":  "Ringkasan 7 hari terakhir",
	"month": "Ringkasan bulan ini",
}

func (e *Engine) stats(ctx context.Context, req Request, args string, att *attempt) (Response, error) {
	params, err := ParseStats(args, e.now(), e.cfg.Location)
	if err != nil {
		return Response{}, err
	}
	att.params = params
	if err := e.check(params); err != nil {
		return Response{}, err
	}
	stats, err := e.deps.Inventory.Stats(ctx, req.TenantID, params.Since)
	if err != nil {
		return Response{}, fmt.Errorf("inventory stats: %w", err)
	}
	return Response{Text: notify.FormatStats(periodTitles[params.Period], stats)}, nil
}

func (e *Engine) edit(ctx context.Context, req Request, member staff.Member, args string, att *attempt) (Response, error) {
	params, err := ParseEdit(args, e.now())
	if err != nil {
		return Response{}, err
	}
	att.params = params
	if err := e.check(params); err != nil {
		return Response{}, err
	}
	vehicle, err := e.deps.Inventory.Edit(ctx, inventory.EditInput{
		TenantID:  req.TenantID,
		DisplayID: params.DisplayID,
		Field:     params.Field,
		Value:     params.Value,
		Actor:     member.Phone,
	})
	switch {
	case errors.Is(err, inventory.ErrVehicleNotFound):
		return Response{}, &UserInputError{Message: fmt.Sprintf("Kendaraan dengan ID %s tidak ditemukan.", params.DisplayID), Err: err}
	case errors.Is(err, inventory.ErrInvalidField):
		return Response{}, &UserInputError{Message: editUsage, Err: err}
	case err != nil:
		return Response{}, fmt.Errorf("edit vehicle: %w", err)
	}
	att.entry.VehicleID = vehicle.ID
	e.publish(ctx, notify.Outcome{
		Kind:        notify.KindVehicleEdited,
		TenantID:    req.TenantID,
		AccountID:   req.AccountID,
		ActingPhone: member.Phone,
		ActorName:   member.Name,
		Vehicle:     &vehicle,
		Field:       params.Field,
		At:          e.now(),
	})
	return Response{
		Text:      fmt.Sprintf("Data %s (%s) diperbarui: %s.", vehicle.Draft().Title(), vehicle.DisplayID, params.Field),
		VehicleID: vehicle.ID,
	}, nil
}

func (e *Engine) check(params any) error {
	if err := e.validate.Struct(params); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &UserInputError{Message: fmt.Sprintf("Parameter %s tidak valid.", strings.ToLower(verrs[0].Field())), Err: err}
		}
		return &UserInputError{Message: "Parameter perintah tidak valid.", Err: err}
	}
	return nil
}

// respond maps err onto the reply and the log entry.
func (e *Engine) respond(logger *slog.Logger, name Name, att *attempt, out Response, err error) Response {
	out.Command = name
	var (
		inputErr *UserInputError
		dupErr   *DuplicateError
	)
	switch {
	case err == nil:
		out.Success = true
	case errors.Is(err, ErrPhoneMismatch) && errors.As(err, &inputErr):
		out.Text = inputErr.Message
		logger.Warn("verify phone mismatch", slog.String("staff_phone", phone.Mask(att.entry.StaffPhone)))
	case errors.As(err, &inputErr):
		out.Text = inputErr.Message
		logger.Info("command rejected", slog.Any("error", err))
	case errors.Is(err, ErrNotAuthorized):
		out.Text = UnauthorizedReply
		logger.Warn("unauthorized command", slog.String("staff_phone", phone.Mask(att.entry.StaffPhone)))
	case errors.As(err, &dupErr):
		out.Success = true
		out.VehicleID = dupErr.Existing.ID
		out.Text = fmt.Sprintf("Unit %s sudah ditambahkan beberapa saat lalu dengan ID %s. Upload ini dibatalkan agar tidak dobel.",
			dupErr.Existing.Draft().Title(), dupErr.Existing.DisplayID)
	default:
		logger.Error("command failed", slog.Any("error", err))
		out.Text = InternalReply
		out.Escalate = true
	}
	att.entry.Success = out.Success
	att.entry.Result = out.Text
	if err != nil && !out.Success {
		att.entry.Result = out.Text + " (" + err.Error() + ")"
	}
	if att.entry.VehicleID == "" {
		att.entry.VehicleID = out.VehicleID
	}
	logger.Debug("command handled", slog.Bool("success", out.Success))
	return out
}

func (e *Engine) record(ctx context.Context, logger *slog.Logger, att *attempt) {
	params := json.RawMessage("{}")
	if att.params != nil {
		if data, err := json.Marshal(att.params); err == nil {
			params = data
		}
	}
	att.entry.Parameters = params
	if _, err := e.deps.Logs.Record(context.WithoutCancel(ctx), att.entry); err != nil {
		logger.Error("write command log failed", slog.Any("error", err))
	}
}

func (e *Engine) publish(ctx context.Context, outcome notify.Outcome) {
	if err := e.deps.Publisher.Publish(ctx, outcome); err != nil {
		e.logger.Warn("publish outcome failed",
			slog.String("kind", string(outcome.Kind)),
			slog.String("tenant_id", outcome.TenantID),
			slog.Any("error", err))
	}
}
