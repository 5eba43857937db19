package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/autolumiku/wabot/internal/healthcheck"
)

// ReadinessRunner evaluates dependency checks.
type ReadinessRunner interface {
	Run(ctx context.Context) healthcheck.Report
}

type PingHandler struct {
	logger    *slog.Logger
	readiness ReadinessRunner
}

func NewPingHandler(log *slog.Logger, readiness ReadinessRunner) *PingHandler {
	return &PingHandler{
		logger:    log.With(slog.String("handler", "ping")),
		readiness: readiness,
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
	e.GET("/health", h.Health)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// Health godoc
// @Summary Readiness report
// @Description Pings postgres, the WhatsApp gateway and optional brokers
// @Tags system
// @Produce json
// @Success 200 {object} healthcheck.Report
// @Failure 503 {object} healthcheck.Report
// @Router /health [get]
func (h *PingHandler) Health(c echo.Context) error {
	if h.readiness == nil {
		return c.JSON(http.StatusOK, healthcheck.Report{Status: healthcheck.StatusOK, Checks: []healthcheck.CheckResult{}})
	}
	report := h.readiness.Run(c.Request().Context())
	if !report.Healthy() {
		h.logger.Warn("readiness failed", slog.String("status", report.Status))
		return c.JSON(http.StatusServiceUnavailable, report)
	}
	return c.JSON(http.StatusOK, report)
}
