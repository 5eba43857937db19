// Package flow holds the per-conversation state machine for multi-step staff
// interactions and the typed context each state carries between messages.
package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autolumiku/wabot/internal/inventory"
)

// Kind tags the variant held by a Context.
type Kind string

const (
	KindIdle         Kind = ""
	KindUpload       Kind = "upload_vehicle"
	KindVerification Kind = "verification"
	// KindLegacy marks context data written by an unknown version. It is kept
	// opaque and dropped on the next reset.
	KindLegacy Kind = "legacy"
)

// UploadStep is the sub-state of the upload flow.
type UploadStep string

const (
	StepAwaitingPhoto        UploadStep = "awaiting_photo"
	StepHasPhotoAwaitingData UploadStep = "has_photo_awaiting_data"
	StepHasDataAwaitingPhoto UploadStep = "has_data_awaiting_photo"
	StepHasPhotoAndData      UploadStep = "has_photo_and_data"
)

// UploadContext stages vehicle data and photos until both are present.
type UploadContext struct {
	VehicleData *inventory.Draft `json:"vehicleData,omitempty"`
	Photos      []string         `json:"photos"`
	Step        UploadStep       `json:"uploadStep"`
	StartedAt   time.Time        `json:"startedAt"`
}

// VerificationContext is set after a bare "/verify" while the phone number is awaited.
type VerificationContext struct {
	RequestedAt time.Time `json:"requestedAt"`
}

// Context is the tagged variant persisted in a conversation's context data.
// Exactly one of Upload, Verification or Legacy is set for a non-idle Kind.
type Context struct {
	Kind         Kind
	Upload       *UploadContext
	Verification *VerificationContext
	Legacy       json.RawMessage
}

// Idle returns the empty context.
func Idle() Context {
	return Context{}
}

// NewUpload starts an upload flow awaiting its first fragment.
func NewUpload(now time.Time) Context {
	return Context{
		Kind:   KindUpload,
		Upload: &UploadContext{Photos: []string{}, Step: StepAwaitingPhoto, StartedAt: now},
	}
}

// NewVerification starts a verification flow awaiting the phone number.
func NewVerification(now time.Time) Context {
	return Context{Kind: KindVerification, Verification: &VerificationContext{RequestedAt: now}}
}

// IsIdle reports whether no flow is open.
func (c Context) IsIdle() bool {
	return c.Kind == KindIdle
}

// InUpload reports whether an upload flow is open.
func (c Context) InUpload() bool {
	return c.Kind == KindUpload && c.Upload != nil
}

// AwaitingVerification reports whether a bare /verify is waiting for its phone.
func (c Context) AwaitingVerification() bool {
	return c.Kind == KindVerification && c.Verification != nil
}

// State renders the persisted state label, e.g. "upload_vehicle:has_data_awaiting_photo".
func (c Context) State() string {
	switch {
	case c.InUpload():
		return string(KindUpload) + ":" + string(c.Upload.Step)
	case c.IsIdle():
		return "idle"
	default:
		return string(c.Kind)
	}
}

type envelope struct {
	Kind         Kind                 `json:"kind"`
	Upload       *UploadContext       `json:"upload,omitempty"`
	Verification *VerificationContext `json:"verification,omitempty"`
}

// MarshalJSON encodes the active variant. Idle encodes as null and legacy data
// is written back unchanged.
func (c Context) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindIdle:
		return []byte("null"), nil
	case KindLegacy:
		if len(c.Legacy) == 0 {
			return []byte("null"), nil
		}
		return c.Legacy, nil
	case KindUpload:
		if c.Upload == nil {
			return nil, fmt.Errorf("upload context is missing")
		}
	case KindVerification:
		if c.Verification == nil {
			return nil, fmt.Errorf("verification context is missing")
		}
	default:
		return nil, fmt.Errorf("unknown flow kind %q", c.Kind)
	}
	return json.Marshal(envelope{Kind: c.Kind, Upload: c.Upload, Verification: c.Verification})
}

// UnmarshalJSON decodes a known variant; anything else is kept as Legacy.
func (c *Context) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		*c = Idle()
		return nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err == nil {
		switch {
		case env.Kind == KindUpload && env.Upload != nil:
			if env.Upload.Photos == nil {
				env.Upload.Photos = []string{}
			}
			env.Upload.Step = env.Upload.deriveStep()
			*c = Context{Kind: KindUpload, Upload: env.Upload}
			return nil
		case env.Kind == KindVerification && env.Verification != nil:
			*c = Context{Kind: KindVerification, Verification: env.Verification}
			return nil
		}
	}
	*c = Context{Kind: KindLegacy, Legacy: append(json.RawMessage(nil), trimmed...)}
	return nil
}

// Decode parses persisted context data. Empty input yields Idle.
func Decode(data []byte) Context {
	var c Context
	_ = c.UnmarshalJSON(data)
	return c
}
