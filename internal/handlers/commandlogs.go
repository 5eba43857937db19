package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/autolumiku/wabot/internal/commandlog"
)

// CommandLogLister reads the staff command audit trail.
type CommandLogLister interface {
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]commandlog.Entry, error)
}

type CommandLogHandler struct {
	logs   CommandLogLister
	logger *slog.Logger
}

func NewCommandLogHandler(log *slog.Logger, logs CommandLogLister) *CommandLogHandler {
	return &CommandLogHandler{
		logs:   logs,
		logger: log.With(slog.String("handler", "command_log")),
	}
}

func (h *CommandLogHandler) Register(e *echo.Echo) {
	e.GET("/command-logs", h.List)
}

// List godoc
// @Summary List staff command logs
// @Tags command-logs
// @Produce json
// @Param tenant query string true "Tenant ID"
// @Param limit query int false "Limit"
// @Success 200 {object} map[string][]commandlog.Entry
// @Failure 400 {object} ErrorResponse
// @Router /command-logs [get]
func (h *CommandLogHandler) List(c echo.Context) error {
	tenantID := strings.TrimSpace(c.QueryParam("tenant"))
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}
	items, err := h.logs.ListByTenant(c.Request().Context(), tenantID, parseLimit(c.QueryParam("limit")))
	if err != nil {
		h.logger.Error("list command logs failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string][]commandlog.Entry{"items": items})
}
