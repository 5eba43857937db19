package flow

import (
	"errors"
	"fmt"

	"github.com/autolumiku/wabot/internal/inventory"
)

// DefaultMaxPhotos bounds the photos staged for one upload.
const DefaultMaxPhotos = 10

// ErrPhotoLimit is returned when a photo would exceed the upload bound.
var ErrPhotoLimit = errors.New("upload photo limit reached")

// SetData merges a data fragment. Fields already staged are replaced only by
// non-empty new values.
func (u *UploadContext) SetData(draft inventory.Draft) {
	if u.VehicleData == nil {
		copied := draft
		u.VehicleData = &copied
	} else {
		mergeDraft(u.VehicleData, draft)
	}
	u.Step = u.deriveStep()
}

// AddPhoto appends a photo reference. It fails with ErrPhotoLimit once limit photos
// are staged; limit <= 0 means DefaultMaxPhotos.
func (u *UploadContext) AddPhoto(ref string, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxPhotos
	}
	if len(u.Photos) >= limit {
		return fmt.Errorf("%w: %d photos", ErrPhotoLimit, limit)
	}
	for _, existing := range u.Photos {
		if existing == ref {
			return nil
		}
	}
	u.Photos = append(u.Photos, ref)
	u.Step = u.deriveStep()
	return nil
}

// Ready reports whether both data and at least one photo are staged.
func (u *UploadContext) Ready() bool {
	return u != nil && u.VehicleData != nil && len(u.Photos) > 0
}

func (u *UploadContext) deriveStep() UploadStep {
	hasData := u.VehicleData != nil
	hasPhoto := len(u.Photos) > 0
	switch {
	case hasData && hasPhoto:
		return StepHasPhotoAndData
	case hasData:
		return StepHasDataAwaitingPhoto
	case hasPhoto:
		return StepHasPhotoAwaitingData
	default:
		return StepAwaitingPhoto
	}
}

func mergeDraft(dst *inventory.Draft, src inventory.Draft) {
	if src.Make != "" {
		dst.Make = src.Make
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Variant != "" {
		dst.Variant = src.Variant
	}
	if src.Year != 0 {
		dst.Year = src.Year
	}
	if src.Price.IsPositive() {
		dst.Price = src.Price
	}
	if src.Color != "" {
		dst.Color = src.Color
	}
	if src.Mileage != 0 {
		dst.Mileage = src.Mileage
	}
	if src.Transmission != "" {
		dst.Transmission = src.Transmission
	}
	if src.FuelType != "" {
		dst.FuelType = src.FuelType
	}
}
