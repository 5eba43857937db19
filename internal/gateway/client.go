// Package gateway talks to the WhatsApp HTTP gateway: outbound sends through
// its REST API and inbound deliveries through its webhook payloads.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/autolumiku/wabot/internal/channel"
)

// ErrNotConfigured is returned by a Client without a base URL.
var ErrNotConfigured = errors.New("gateway client is not configured")

type sendRequest struct {
	To      string `json:"to"`
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	URL     string `json:"url,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type sendResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Client implements channel.Sender over the gateway REST API.
type Client struct {
	baseURL    string
	httpClient *resty.Client
}

var _ channel.Sender = (*Client)(nil)

// NewClient creates a gateway client. token is sent as a bearer token when set.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "wabot-gateway/1.0").
		SetTimeout(timeout)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: client,
	}
}

func (c *Client) IsEnabled() bool {
	return c != nil && c.baseURL != ""
}

// Send delivers a text message from accountID to the raw recipient id.
func (c *Client) Send(ctx context.Context, accountID, to, text string) (channel.SendResult, error) {
	return c.post(ctx, accountID, sendRequest{To: to, Type: "text", Text: text})
}

// SendMedia delivers an image by URL.
func (c *Client) SendMedia(ctx context.Context, accountID, to, mediaURL, caption string) (channel.SendResult, error) {
	return c.post(ctx, accountID, sendRequest{To: to, Type: "image", URL: mediaURL, Caption: caption})
}

func (c *Client) post(ctx context.Context, accountID string, req sendRequest) (channel.SendResult, error) {
	if !c.IsEnabled() {
		return channel.SendResult{}, ErrNotConfigured
	}
	var apiResp sendResponse
	httpResp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&apiResp).
		SetError(&apiResp).
		Post("/accounts/" + url.PathEscape(accountID) + "/messages")
	if err != nil {
		return channel.SendResult{}, fmt.Errorf("gateway request failed: %w", err)
	}
	if httpResp.IsError() {
		detail := apiResp.Error
		if detail == "" {
			detail = httpResp.String()
		}
		return channel.SendResult{}, fmt.Errorf("gateway error (%d): %s", httpResp.StatusCode(), detail)
	}
	id := apiResp.MessageID
	if id == "" {
		id = apiResp.ID
	}
	return channel.SendResult{MessageID: id}, nil
}

// Ping checks that the gateway answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if !c.IsEnabled() {
		return ErrNotConfigured
	}
	resp, err := c.httpClient.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("gateway health: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway health (%d)", resp.StatusCode())
	}
	return nil
}
