// Package commandlog records one audit row per staff command attempt.
package commandlog

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one staff command attempt, successful or not.
type Entry struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	StaffPhone     string          `json:"staff_phone"`
	Command        string          `json:"command"`
	Parameters     json.RawMessage `json:"parameters"`
	Success        bool            `json:"success"`
	Result         string          `json:"result"`
	VehicleID      string          `json:"vehicle_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Recorder writes command log entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) (Entry, error)
}

// Service adds the dashboard read surface.
type Service interface {
	Recorder
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]Entry, error)
}
