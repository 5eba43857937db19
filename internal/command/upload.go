package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/autolumiku/wabot/internal/conversation/flow"
	"github.com/autolumiku/wabot/internal/inventory"
	"github.com/autolumiku/wabot/internal/metrics"
	"github.com/autolumiku/wabot/internal/notify"
	"github.com/autolumiku/wabot/internal/staff"
)

const dataExample = "contoh: Brio 2020 120jt hitam"

type uploadParams struct {
	Draft      *inventory.Draft `json:"draft,omitempty"`
	Photos     int              `json:"photos"`
	Step       flow.UploadStep  `json:"step"`
	PhotoError string           `json:"photo_error,omitempty"`
}

var draftLabels = map[string]string{
	"Make":         "merek",
	"Model":        "model",
	"Year":         "tahun",
	"Mileage":      "kilometer",
	"Transmission": "transmisi",
	"FuelType":     "bahan bakar",
}

// upload merges this message's data and photo fragments into the staged flow
// and creates the vehicle once both are present.
func (e *Engine) upload(ctx context.Context, req Request, member staff.Member, att *attempt) (Response, error) {
	conv := req.Conversation
	state := conv.Flow
	started := false
	if !state.InUpload() {
		state = flow.NewUpload(e.now())
		started = true
	}
	up := state.Upload
	params := &uploadParams{}
	att.params = params

	gotData := false
	args := StripPrefix(NameUpload, req.Text)
	switch {
	case req.Draft != nil:
		up.SetData(*req.Draft)
		gotData = true
	case args != "":
		draft, err := e.extract(ctx, args)
		switch {
		case err == nil:
			up.SetData(draft)
			gotData = true
		case errors.Is(err, ErrNoVehicleData) && up.VehicleData != nil && hasDetails(draft):
			up.SetData(draft)
			gotData = true
		case !req.HasPhoto:
			return Response{}, &UserInputError{Message: UploadUsage(), Err: err}
		}
	}

	var notes []string
	gotPhoto := false
	if req.HasPhoto && req.MediaURL != "" {
		photo, err := e.deps.Photos.Fetch(ctx, req.TenantID, req.MediaURL)
		switch {
		case err != nil:
			e.logger.Warn("photo fetch failed, continuing without it",
				slog.String("conversation_id", conv.ID),
				slog.Any("error", err))
			params.PhotoError = err.Error()
			notes = append(notes, "Foto gagal diunduh, mohon kirim ulang fotonya.")
		default:
			if err := up.AddPhoto(photo.AccessPath, e.cfg.MaxPhotos); err != nil {
				if !errors.Is(err, flow.ErrPhotoLimit) {
					return Response{}, err
				}
				notes = append(notes, fmt.Sprintf("Maksimal %d foto per unit, foto ini tidak disimpan.", e.cfg.MaxPhotos))
			} else {
				gotPhoto = true
			}
		}
	}

	params.Draft = up.VehicleData
	params.Photos = len(up.Photos)
	params.Step = up.Step

	if up.Ready() && (gotData || gotPhoto) {
		return e.reconcile(ctx, req, member, state, notes)
	}
	if started || gotData || gotPhoto {
		if err := e.deps.Conversations.SaveFlow(ctx, conv.ID, state); err != nil {
			return Response{}, fmt.Errorf("save upload flow: %w", err)
		}
	}
	return Response{Text: joinLines(e.uploadPrompt(up), notes)}, nil
}

func (e *Engine) reconcile(ctx context.Context, req Request, member staff.Member, state flow.Context, notes []string) (Response, error) {
	conv := req.Conversation
	up := state.Upload
	draft := *up.VehicleData
	if missing := e.missingFields(draft); len(missing) > 0 {
		if err := e.deps.Conversations.SaveFlow(ctx, conv.ID, state); err != nil {
			return Response{}, fmt.Errorf("save upload flow: %w", err)
		}
		return Response{}, userInput("Data belum lengkap: %s. Kirim data yang kurang, %s", strings.Join(missing, ", "), dataExample)
	}

	now := e.now()
	vehicle, err := e.deps.Inventory.Create(ctx, inventory.CreateInput{
		TenantID:            req.TenantID,
		Draft:               draft,
		Photos:              up.Photos,
		CreatedBy:           member.Phone,
		DuplicateSince:      now.Add(-e.cfg.DuplicateWindow),
		ResetConversationID: conv.ID,
	})
	var dup *inventory.DuplicateError
	if errors.As(err, &dup) {
		metrics.ReconciliationsTotal.WithLabelValues(metrics.ResultDup).Inc()
		if err := e.deps.Conversations.ClearFlow(ctx, conv.ID); err != nil {
			e.logger.Warn("clear flow after duplicate failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
		}
		return Response{}, &DuplicateError{Existing: dup.Existing}
	}
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return Response{}, fmt.Errorf("create vehicle: %w", err)
	}
	metrics.ReconciliationsTotal.WithLabelValues(metrics.ResultCreated).Inc()

	e.publish(ctx, notify.Outcome{
		Kind:        notify.KindVehicleCreated,
		TenantID:    req.TenantID,
		AccountID:   req.AccountID,
		ActingPhone: member.Phone,
		ActorName:   member.Name,
		Vehicle:     &vehicle,
		At:          now,
	})
	text := fmt.Sprintf("Unit berhasil ditambahkan!\nID: %s\n%s\nHarga: %s\nFoto: %d",
		vehicle.DisplayID, describeDraft(vehicle.Draft()), inventory.FormatPrice(vehicle.Price), len(vehicle.Photos))
	return Response{Text: joinLines(text, notes), VehicleID: vehicle.ID}, nil
}

// extract tries the language-model extractor first and falls back to rules.
func (e *Engine) extract(ctx context.Context, text string) (inventory.Draft, error) {
	if e.deps.Extractor != nil {
		draft, err := e.deps.Extractor.Extract(ctx, text)
		if err == nil && draft.Model != "" {
			return draft, nil
		}
		if err != nil {
			e.logger.Debug("extractor failed, using rules", slog.Any("error", err))
		}
	}
	return e.rules.Extract(ctx, text)
}

func (e *Engine) missingFields(draft inventory.Draft) []string {
	var missing []string
	if err := e.validate.Struct(draft); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if label, ok := draftLabels[fe.Field()]; ok {
					missing = append(missing, label)
				}
			}
		}
	}
	if !draft.Price.IsPositive() {
		missing = append(missing, "harga")
	}
	return missing
}

func (e *Engine) uploadPrompt(up *flow.UploadContext) string {
	switch up.Step {
	case flow.StepHasDataAwaitingPhoto:
		return fmt.Sprintf("Data tersimpan: %s.\nSilakan kirim foto kendaraan (maks %d foto).", describeDraft(*up.VehicleData), e.cfg.MaxPhotos)
	case flow.StepHasPhotoAwaitingData:
		return fmt.Sprintf("Foto diterima (%d). Silakan kirim data kendaraan, %s", len(up.Photos), dataExample)
	default:
		return "Siap menambahkan unit baru. Kirim data dan foto kendaraan dengan urutan bebas, " + dataExample + ". Ketik batal untuk membatalkan."
	}
}

func joinLines(text string, notes []string) string {
	if len(notes) == 0 {
		return text
	}
	return text + "\n" + strings.Join(notes, "\n")
}
