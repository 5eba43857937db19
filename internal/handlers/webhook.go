package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/autolumiku/wabot/internal/channel"
	"github.com/autolumiku/wabot/internal/gateway"
)

const (
	webhookSecretHeader = "X-Webhook-Secret"
	maxWebhookBody      = 1 << 20
)

// Enqueuer accepts inbound messages for asynchronous processing.
type Enqueuer interface {
	Enqueue(msg channel.IncomingMessage) error
}

// TenantResolver maps a business account to its tenant.
type TenantResolver func(accountID string) string

// WebhookConfig authenticates gateway calls.
type WebhookConfig struct {
	Secret string
	Tenant TenantResolver
}

// WebhookHandler receives gateway deliveries and hands them to the worker pool.
type WebhookHandler struct {
	queue  Enqueuer
	secret string
	tenant TenantResolver
	logger *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, queue Enqueuer, cfg WebhookConfig) *WebhookHandler {
	tenant := cfg.Tenant
	if tenant == nil {
		tenant = func(accountID string) string { return accountID }
	}
	return &WebhookHandler{
		queue:  queue,
		secret: strings.TrimSpace(cfg.Secret),
		tenant: tenant,
		logger: log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/whatsapp/:account", h.Receive)
}

// Receive godoc
// @Summary Receive WhatsApp gateway webhook
// @Description Parses a gateway delivery and queues each message for processing
// @Tags webhook
// @Accept json
// @Produce json
// @Param account path string true "Business account ID"
// @Success 202 {object} map[string]int
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /webhook/whatsapp/{account} [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	accountID := strings.TrimSpace(c.Param("account"))
	if accountID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "account is required")
	}
	if h.secret != "" {
		got := c.Request().Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
		}
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body failed")
	}
	msgs, err := gateway.ParseWebhook(accountID, h.tenant(accountID), body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	accepted := 0
	for _, msg := range msgs {
		if err := h.queue.Enqueue(msg); err != nil {
			h.logger.Warn("enqueue inbound failed",
				slog.String("account_id", accountID),
				slog.String("message_id", msg.MessageID),
				slog.Any("error", err),
			)
			if errors.Is(err, channel.ErrQueueFull) || errors.Is(err, channel.ErrManagerStopped) {
				// The gateway redelivers on 5xx; already queued messages are deduplicated by id.
				return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		accepted++
	}
	return c.JSON(http.StatusAccepted, map[string]int{"accepted": accepted})
}
