package message

import (
	"context"
	"time"
)

// Direction constants.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Sender type constants.
const (
	SenderCustomer = "customer"
	SenderStaff    = "staff"
	SenderAI       = "ai"
)

// Delivery status constants.
const (
	DeliveryReceived = "received"
	DeliverySent     = "sent"
	DeliveryFailed   = "failed"
)

// Message represents a single persisted conversation message.
type Message struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	Direction         string    `json:"direction"`
	Sender            string    `json:"sender"`
	Content           string    `json:"content"`
	MediaURL          string    `json:"media_url,omitempty"`
	MediaType         string    `json:"media_type,omitempty"`
	Intent            string    `json:"intent,omitempty"`
	Confidence        float64   `json:"confidence,omitempty"`
	SenderType        string    `json:"sender_type"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	DeliveryStatus    string    `json:"delivery_status"`
	DeliveryError     string    `json:"delivery_error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// InboundInput is the input for persisting a received message.
type InboundInput struct {
	ConversationID    string
	Sender            string
	Content           string
	MediaURL          string
	MediaType         string
	SenderType        string
	ExternalMessageID string
}

// OutboundInput is the input for persisting a sent reply.
type OutboundInput struct {
	ConversationID    string
	Sender            string
	Content           string
	MediaURL          string
	MediaType         string
	SenderType        string
	ExternalMessageID string
	DeliveryStatus    string
	DeliveryError     string
}

// Writer defines write behavior needed by the inbound pipeline.
type Writer interface {
	// PersistInbound stores a received message. duplicate is true when the same
	// provider message id was already stored for the conversation; the stored row
	// is returned in that case.
	PersistInbound(ctx context.Context, input InboundInput) (msg Message, duplicate bool, err error)
	PersistOutbound(ctx context.Context, input OutboundInput) (Message, error)
	// BackfillIntent sets intent and sender type once; later calls are no-ops.
	BackfillIntent(ctx context.Context, messageID, intent string, confidence float64, senderType string) error
}

// Reader defines read behavior for history and dashboards.
type Reader interface {
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]Message, error)
	// ListLatest returns the newest limit messages ordered oldest first.
	ListLatest(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

// Service defines message read/write behavior.
type Service interface {
	Writer
	Reader
}
