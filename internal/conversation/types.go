// Package conversation defines conversation domain types and persistence.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/autolumiku/wabot/internal/conversation/flow"
)

// Conversation status constants.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Conversation type constants.
const (
	TypeCustomer = "customer"
	TypeStaff    = "staff"
)

// AliasMethod records how an alias was linked to a conversation.
type AliasMethod string

const (
	AliasExact     AliasMethod = "exact"
	AliasDirectory AliasMethod = "directory"
	AliasRecency   AliasMethod = "recency"
	AliasVerify    AliasMethod = "verify"
)

// EscalatedToHuman is the escalation target set when the automated path gives up.
const EscalatedToHuman = "human"

var (
	// ErrNotFound indicates no matching conversation.
	ErrNotFound = errors.New("conversation not found")
)

// Conversation ties one canonical identity to its history and flow state.
type Conversation struct {
	ID               string       `json:"id"`
	AccountID        string       `json:"account_id"`
	TenantID         string       `json:"tenant_id"`
	PrimaryIdentity  string       `json:"primary_identity"`
	LinkedAliases    []string     `json:"linked_aliases"`
	VerifiedPhone    string       `json:"verified_phone,omitempty"`
	IsStaff          bool         `json:"is_staff"`
	ConversationType string       `json:"conversation_type"`
	Flow             flow.Context `json:"context_data"`
	LastMessageAt    time.Time    `json:"last_message_at"`
	LastIntent       string       `json:"last_intent,omitempty"`
	Status           string       `json:"status"`
	EscalatedTo      string       `json:"escalated_to,omitempty"`
	EscalatedAt      *time.Time   `json:"escalated_at,omitempty"`
	CustomerName     string       `json:"customer_name,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// State is the persisted flow state label.
func (c Conversation) State() string {
	return c.Flow.State()
}

// HasAlias reports whether alias is already linked.
func (c Conversation) HasAlias(alias string) bool {
	for _, a := range c.LinkedAliases {
		if a == alias {
			return true
		}
	}
	return false
}

// AliasLink is one persisted alias-to-conversation edge.
type AliasLink struct {
	ConversationID string      `json:"conversation_id"`
	Alias          string      `json:"alias"`
	Method         AliasMethod `json:"method"`
	CreatedAt      time.Time   `json:"created_at"`
}

// CreateInput is the input for creating a conversation.
type CreateInput struct {
	AccountID       string
	TenantID        string
	PrimaryIdentity string
	IsStaff         bool
	VerifiedPhone   string
	CustomerName    string
}

// Summary carries the fields refreshed after every processed message.
type Summary struct {
	LastIntent   string
	CustomerName string
	At           time.Time
}

// Lookup is the read surface used by identity resolution.
type Lookup interface {
	Get(ctx context.Context, id string) (Conversation, error)
	FindActiveByIdentity(ctx context.Context, accountID, identity string) (Conversation, error)
	FindActiveStaffByAlias(ctx context.Context, accountID, alias string) (Conversation, error)
	FindActiveStaffByVerifiedPhone(ctx context.Context, accountID, phone string) (Conversation, error)
	FindActiveByPhone(ctx context.Context, accountID, phone string) (Conversation, error)
	MostRecentStaff(ctx context.Context, accountID string, since time.Time) (Conversation, error)
}

// Writer is the write surface used by the orchestrator and command engine.
type Writer interface {
	Create(ctx context.Context, input CreateInput) (Conversation, error)
	LinkAlias(ctx context.Context, conversationID, alias string, method AliasMethod) (bool, error)
	SaveFlow(ctx context.Context, conversationID string, state flow.Context) error
	ClearFlow(ctx context.Context, conversationID string) error
	MarkStaff(ctx context.Context, conversationID, verifiedPhone string) error
	Close(ctx context.Context, conversationID string) error
	Touch(ctx context.Context, conversationID string, summary Summary) error
	Escalate(ctx context.Context, conversationID, to string) error
}

// Service is the full conversation surface.
type Service interface {
	Lookup
	Writer
	RevokeStaff(ctx context.Context, conversationID string) error
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]Conversation, error)
	Aliases(ctx context.Context, conversationID string) ([]AliasLink, error)
}
