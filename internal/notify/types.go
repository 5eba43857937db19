// Package notify fans command outcomes out to a tenant's staff.
package notify

import (
	"context"
	"time"

	"github.com/autolumiku/wabot/internal/inventory"
)

// Kind tags an outcome.
type Kind string

const (
	KindVehicleCreated Kind = "vehicle_created"
	KindStatusChanged  Kind = "status_changed"
	KindVehicleEdited  Kind = "vehicle_edited"
	KindDigest         Kind = "digest"
)

// Outcome is a successful command result worth telling other staff about.
// ActingPhone is excluded from the recipients; digests leave it empty.
type Outcome struct {
	Kind        Kind               `json:"kind"`
	TenantID    string             `json:"tenant_id"`
	AccountID   string             `json:"account_id"`
	ActingPhone string             `json:"acting_phone,omitempty"`
	ActorName   string             `json:"actor_name,omitempty"`
	Vehicle     *inventory.Vehicle `json:"vehicle,omitempty"`
	FromStatus  inventory.Status   `json:"from_status,omitempty"`
	Field       string             `json:"field,omitempty"`
	Stats       *inventory.Stats   `json:"stats,omitempty"`
	At          time.Time          `json:"at"`
}

// Publisher hands an outcome to whatever delivers it.
type Publisher interface {
	Publish(ctx context.Context, outcome Outcome) error
}

// Report summarizes one broadcast.
type Report struct {
	Recipients int
	Sent       int
	Failed     int
}

// Notifier delivers an outcome to staff.
type Notifier interface {
	Notify(ctx context.Context, outcome Outcome) (Report, error)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, outcome Outcome) error

func (f PublisherFunc) Publish(ctx context.Context, outcome Outcome) error {
	return f(ctx, outcome)
}

// Discard drops every outcome.
var Discard Publisher = PublisherFunc(func(context.Context, Outcome) error { return nil })
