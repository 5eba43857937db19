// Package inventory owns showroom vehicle records and their audit history.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the closed set of vehicle listing states.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusBooked    Status = "BOOKED"
	StatusSold      Status = "SOLD"
	StatusDeleted   Status = "DELETED"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusAvailable, StatusBooked, StatusSold, StatusDeleted}

var statusAliases = map[string]Status{
	"available": StatusAvailable,
	"tersedia":  StatusAvailable,
	"ready":     StatusAvailable,
	"booked":    StatusBooked,
	"booking":   StatusBooked,
	"dp":        StatusBooked,
	"sold":      StatusSold,
	"laku":      StatusSold,
	"terjual":   StatusSold,
	"deleted":   StatusDeleted,
	"hapus":     StatusDeleted,
}

// ParseStatus maps user input such as "sold", "laku" or "BOOKED" to a Status.
func ParseStatus(raw string) (Status, bool) {
	status, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]
	return status, ok
}

// History action constants.
const (
	ActionCreated       = "created"
	ActionStatusChanged = "status_changed"
	ActionEdited        = "edited"
)

var (
	// ErrVehicleNotFound indicates no vehicle with the given display id exists for the tenant.
	ErrVehicleNotFound = errors.New("vehicle not found")
	// ErrInvalidStatus indicates a status outside the closed enum.
	ErrInvalidStatus = errors.New("invalid vehicle status")
	// ErrInvalidField indicates an edit on a field that cannot be edited.
	ErrInvalidField = errors.New("invalid vehicle field")
)

// DuplicateError reports a recently created vehicle with the same make, model and year.
type DuplicateError struct {
	Existing Vehicle
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("likely duplicate of vehicle %s", e.Existing.DisplayID)
}

// Draft is the staged, not yet persisted description of a vehicle.
type Draft struct {
	Make         string          `json:"make" validate:"required"`
	Model        string          `json:"model" validate:"required"`
	Variant      string          `json:"variant,omitempty"`
	Year         int             `json:"year" validate:"required,gte=1980"`
	Price        decimal.Decimal `json:"price"`
	Color        string          `json:"color,omitempty"`
	Mileage      int             `json:"mileage,omitempty" validate:"gte=0"`
	Transmission string          `json:"transmission,omitempty" validate:"omitempty,oneof=manual matic"`
	FuelType     string          `json:"fuelType,omitempty" validate:"omitempty,oneof=bensin diesel hybrid listrik"`
}

// Title renders "Make Model Variant Year".
func (d Draft) Title() string {
	parts := []string{d.Make, d.Model}
	if d.Variant != "" {
		parts = append(parts, d.Variant)
	}
	if d.Year > 0 {
		parts = append(parts, fmt.Sprint(d.Year))
	}
	return strings.Join(parts, " ")
}

// Vehicle is a persisted listing.
type Vehicle struct {
	ID           string          `json:"id"`
	DisplayID    string          `json:"display_id"`
	TenantID     string          `json:"tenant_id"`
	Make         string          `json:"make"`
	Model        string          `json:"model"`
	Variant      string          `json:"variant,omitempty"`
	Year         int             `json:"year"`
	Price        decimal.Decimal `json:"price"`
	Color        string          `json:"color,omitempty"`
	Mileage      int             `json:"mileage"`
	Transmission string          `json:"transmission,omitempty"`
	FuelType     string          `json:"fuel_type,omitempty"`
	Status       Status          `json:"status"`
	Photos       []string        `json:"photos"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Draft returns the descriptive fields of v.
func (v Vehicle) Draft() Draft {
	return Draft{
		Make:         v.Make,
		Model:        v.Model,
		Variant:      v.Variant,
		Year:         v.Year,
		Price:        v.Price,
		Color:        v.Color,
		Mileage:      v.Mileage,
		Transmission: v.Transmission,
		FuelType:     v.FuelType,
	}
}

// CreateInput describes one create-record operation.
type CreateInput struct {
	TenantID  string
	Draft     Draft
	Photos    []string
	CreatedBy string
	// DuplicateSince enables the make/model/year duplicate check against
	// vehicles created at or after this instant.
	DuplicateSince time.Time
	// ResetConversationID clears that conversation's flow state in the same
	// transaction that inserts the vehicle.
	ResetConversationID string
}

// StatusChange describes an update-status operation.
type StatusChange struct {
	TenantID  string
	DisplayID string
	Status    Status
	Actor     string
}

// Edit field names accepted by EditInput.
const (
	FieldPrice        = "price"
	FieldMileage      = "mileage"
	FieldColor        = "color"
	FieldVariant      = "variant"
	FieldTransmission = "transmission"
	FieldFuel         = "fuel"
	FieldYear         = "year"
)

// EditFields lists every editable field.
var EditFields = []string{FieldPrice, FieldMileage, FieldColor, FieldVariant, FieldTransmission, FieldFuel, FieldYear}

// EditInput changes one field of a vehicle. Value is already normalized for the field.
type EditInput struct {
	TenantID  string
	DisplayID string
	Field     string
	Value     any
	Actor     string
}

// Filter narrows List results.
type Filter struct {
	TenantID string
	Status   Status
	Make     string
	Limit    int
}

// Stats summarizes a tenant's inventory for a period.
type Stats struct {
	TenantID       string          `json:"tenant_id"`
	Since          time.Time       `json:"since"`
	Total          int             `json:"total"`
	Available      int             `json:"available"`
	Booked         int             `json:"booked"`
	Sold           int             `json:"sold"`
	AddedInPeriod  int             `json:"added_in_period"`
	SoldInPeriod   int             `json:"sold_in_period"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
	ByMake         map[string]int  `json:"by_make"`
}

// HistoryEntry is one audit row.
type HistoryEntry struct {
	VehicleID  string         `json:"vehicle_id"`
	Action     string         `json:"action"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status,omitempty"`
	Changes    map[string]any `json:"changes,omitempty"`
	Actor      string         `json:"actor"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Store is the transactional surface consumed by the command engine.
type Store interface {
	Create(ctx context.Context, input CreateInput) (Vehicle, error)
	FindByDisplayID(ctx context.Context, tenantID, displayID string) (Vehicle, error)
	UpdateStatus(ctx context.Context, change StatusChange) (Vehicle, Status, error)
	Edit(ctx context.Context, input EditInput) (Vehicle, error)
	List(ctx context.Context, filter Filter) ([]Vehicle, error)
	Stats(ctx context.Context, tenantID string, since time.Time) (Stats, error)
}
