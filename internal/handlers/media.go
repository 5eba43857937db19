package handlers

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/autolumiku/wabot/internal/media"
)

// MediaOpener reads stored photos by storage key.
type MediaOpener interface {
	Open(ctx context.Context, key string) ([]byte, string, error)
}

// MediaHandler serves stored vehicle photos so customers can receive them by URL.
type MediaHandler struct {
	media  MediaOpener
	logger *slog.Logger
}

func NewMediaHandler(log *slog.Logger, opener MediaOpener) *MediaHandler {
	return &MediaHandler{
		media:  opener,
		logger: log.With(slog.String("handler", "media")),
	}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	e.GET("/media/*", h.Serve)
}

// Serve godoc
// @Summary Serve stored photo
// @Tags media
// @Produce octet-stream
// @Param key path string true "Storage key"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /media/{key} [get]
func (h *MediaHandler) Serve(c echo.Context) error {
	key := strings.TrimSpace(c.Param("*"))
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "media key is required")
	}
	if h.media == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "media service not configured")
	}
	data, contentType, err := h.media.Open(c.Request().Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return echo.NewHTTPError(http.StatusNotFound, "media not found")
		case errors.Is(err, media.ErrPathTraversal):
			return echo.NewHTTPError(http.StatusBadRequest, "invalid media key")
		}
		h.logger.Warn("open media failed", slog.String("key", key), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	return c.Blob(http.StatusOK, contentType, data)
}
