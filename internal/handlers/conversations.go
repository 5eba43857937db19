package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/autolumiku/wabot/internal/conversation"
	messagepkg "github.com/autolumiku/wabot/internal/message"
)

// ConversationReader is the conversation surface the dashboard needs.
type ConversationReader interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]conversation.Conversation, error)
	Aliases(ctx context.Context, conversationID string) ([]conversation.AliasLink, error)
	RevokeStaff(ctx context.Context, conversationID string) error
}

// ConversationDetail is a conversation together with its alias edges.
type ConversationDetail struct {
	conversation.Conversation
	Aliases []conversation.AliasLink `json:"aliases"`
}

type ConversationHandler struct {
	conversations ConversationReader
	messages      messagepkg.Reader
	logger        *slog.Logger
}

func NewConversationHandler(log *slog.Logger, conversations ConversationReader, messages messagepkg.Reader) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		logger:        log.With(slog.String("handler", "conversation")),
	}
}

func (h *ConversationHandler) Register(e *echo.Echo) {
	group := e.Group("/conversations")
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.GET("/:id/messages", h.ListMessages)
	group.POST("/:id/revoke-staff", h.RevokeStaff)
}

// List godoc
// @Summary List conversations
// @Description Most recently active conversations of a tenant
// @Tags conversations
// @Produce json
// @Param tenant query string true "Tenant ID"
// @Param limit query int false "Limit"
// @Success 200 {object} map[string][]conversation.Conversation
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /conversations [get]
func (h *ConversationHandler) List(c echo.Context) error {
	tenantID := strings.TrimSpace(c.QueryParam("tenant"))
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}
	items, err := h.conversations.ListByTenant(c.Request().Context(), tenantID, parseLimit(c.QueryParam("limit")))
	if err != nil {
		h.logger.Error("list conversations failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string][]conversation.Conversation{"items": items})
}

// Get godoc
// @Summary Get conversation
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} ConversationDetail
// @Failure 404 {object} ErrorResponse
// @Router /conversations/{id} [get]
func (h *ConversationHandler) Get(c echo.Context) error {
	conv, err := h.load(c)
	if err != nil {
		return err
	}
	aliases, err := h.conversations.Aliases(c.Request().Context(), conv.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ConversationDetail{Conversation: conv, Aliases: aliases})
}

// ListMessages godoc
// @Summary List conversation messages
// @Description Messages of a conversation, oldest first
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Param limit query int false "Limit"
// @Success 200 {object} map[string][]messagepkg.Message
// @Failure 404 {object} ErrorResponse
// @Router /conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	conv, err := h.load(c)
	if err != nil {
		return err
	}
	if h.messages == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "message service not configured")
	}
	msgs, err := h.messages.ListByConversation(c.Request().Context(), conv.ID, parseLimit(c.QueryParam("limit")))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string][]messagepkg.Message{"items": msgs})
}

// RevokeStaff godoc
// @Summary Revoke staff status
// @Description Clears the staff flag and any open flow of a conversation
// @Tags conversations
// @Param id path string true "Conversation ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /conversations/{id}/revoke-staff [post]
func (h *ConversationHandler) RevokeStaff(c echo.Context) error {
	conv, err := h.load(c)
	if err != nil {
		return err
	}
	if err := h.conversations.RevokeStaff(c.Request().Context(), conv.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.logger.Info("staff revoked",
		slog.String("conversation_id", conv.ID),
		slog.String("tenant_id", conv.TenantID),
	)
	return c.NoContent(http.StatusNoContent)
}

func (h *ConversationHandler) load(c echo.Context) (conversation.Conversation, error) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return conversation.Conversation{}, echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	conv, err := h.conversations.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return conversation.Conversation{}, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return conversation.Conversation{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return conv, nil
}
