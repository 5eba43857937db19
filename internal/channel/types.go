// Package channel defines the WhatsApp-facing message types, the outbound sender
// contract and the inbound work queue feeding the orchestrator.
package channel

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrSendFailed marks an outbound delivery that failed after all retries.
var ErrSendFailed = errors.New("channel send failed")

// IncomingMessage is one provider delivery for a business account.
type IncomingMessage struct {
	AccountID string    `json:"account_id"`
	TenantID  string    `json:"tenant_id"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	MediaURL  string    `json:"media_url,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	PushName  string    `json:"push_name,omitempty"`
	At        time.Time `json:"at,omitempty"`
}

// HasMedia reports whether the message carries an attachment.
func (m IncomingMessage) HasMedia() bool {
	return strings.TrimSpace(m.MediaURL) != ""
}

// IsImage reports whether the attachment is a photo.
func (m IncomingMessage) IsImage() bool {
	if !m.HasMedia() {
		return false
	}
	mt := strings.ToLower(strings.TrimSpace(m.MediaType))
	return mt == "" || mt == "image" || strings.HasPrefix(mt, "image/")
}

// ProcessResult is the outcome of processing one IncomingMessage.
type ProcessResult struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversation_id,omitempty"`
	Intent         string `json:"intent,omitempty"`
	ResponseText   string `json:"response_text,omitempty"`
	Escalated      bool   `json:"escalated"`
	Error          string `json:"error,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

// Processor handles one inbound message end to end.
type Processor interface {
	ProcessIncomingMessage(ctx context.Context, msg IncomingMessage) (ProcessResult, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, msg IncomingMessage) (ProcessResult, error)

func (f ProcessorFunc) ProcessIncomingMessage(ctx context.Context, msg IncomingMessage) (ProcessResult, error) {
	return f(ctx, msg)
}

// SendResult is what the gateway reports for an accepted message.
type SendResult struct {
	MessageID string `json:"message_id,omitempty"`
}

// Sender delivers outbound WhatsApp messages through the gateway.
type Sender interface {
	Send(ctx context.Context, accountID, to, text string) (SendResult, error)
	SendMedia(ctx context.Context, accountID, to, url, caption string) (SendResult, error)
}
