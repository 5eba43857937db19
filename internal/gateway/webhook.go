package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autolumiku/wabot/internal/channel"
)

// ErrMalformedPayload is returned for webhook bodies that are not JSON objects.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// WebhookMessage is one message as the gateway posts it.
type WebhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	FromMe    bool   `json:"from_me"`
	PushName  string `json:"push_name"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Body      string `json:"body"`
	Caption   string `json:"caption"`
	MediaURL  string `json:"media_url"`
	MediaType string `json:"mimetype"`
	Timestamp int64  `json:"timestamp"`
}

// WebhookPayload is the envelope of one webhook call. Gateways batch either
// under messages or send a single message under data.
type WebhookPayload struct {
	Event    string           `json:"event"`
	Data     *WebhookMessage  `json:"data,omitempty"`
	Messages []WebhookMessage `json:"messages,omitempty"`
}

// ParseWebhook decodes body into inbound messages for accountID. Status
// updates, own messages and group chats yield no messages.
func ParseWebhook(accountID, tenantID string, body []byte) ([]channel.IncomingMessage, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	switch strings.ToLower(payload.Event) {
	case "", "message", "messages", "messages.upsert":
	default:
		return nil, nil
	}
	raw := payload.Messages
	if payload.Data != nil {
		raw = append(raw, *payload.Data)
	}
	out := make([]channel.IncomingMessage, 0, len(raw))
	for _, m := range raw {
		if msg, ok := m.incoming(accountID, tenantID); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m WebhookMessage) incoming(accountID, tenantID string) (channel.IncomingMessage, bool) {
	from := strings.TrimSpace(m.From)
	if m.FromMe || from == "" || strings.HasSuffix(from, "@g.us") || strings.HasSuffix(from, "@broadcast") {
		return channel.IncomingMessage{}, false
	}
	text := firstNonEmpty(m.Text, m.Body, m.Caption)
	mediaType := m.MediaType
	if mediaType == "" && m.MediaURL != "" {
		mediaType = m.Type
	}
	if text == "" && m.MediaURL == "" {
		return channel.IncomingMessage{}, false
	}
	msg := channel.IncomingMessage{
		AccountID: accountID,
		TenantID:  tenantID,
		From:      from,
		Text:      strings.TrimSpace(text),
		MediaURL:  strings.TrimSpace(m.MediaURL),
		MediaType: mediaType,
		MessageID: m.ID,
		PushName:  strings.TrimSpace(m.PushName),
	}
	if m.Timestamp > 0 {
		msg.At = time.Unix(m.Timestamp, 0).UTC()
	}
	return msg, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
