// Package ingest accepts clinical events from producers (transcription
// workers, suggestion engines) and publishes them onto a session's topic.
package ingest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mdx-vision/mdx/internal/domain/session"
	"github.com/mdx-vision/mdx/internal/platform/auth"
	"github.com/mdx-vision/mdx/internal/platform/bus"
)

type Handler struct {
	events *bus.Bus
	reg    *session.Registry
	logger zerolog.Logger
}

func NewHandler(events *bus.Bus, reg *session.Registry, logger zerolog.Logger) *Handler {
	return &Handler{events: events, reg: reg, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse", "service"))
	g.POST("/sessions/:id/events", h.PublishEvent)
}

type publishRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type publishResponse struct {
	Sequence uint64 `json:"sequence"`
}

// PublishEvent validates and publishes one event to the session's topic.
// The assigned sequence number is returned so producers can correlate.
func (h *Handler) PublishEvent(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}

	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	kind := bus.Kind(req.Kind)
	if !bus.ValidKind(kind) || kind == bus.KindLifecycle {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported event kind")
	}
	if len(req.Payload) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "payload is required")
	}

	if _, err := h.reg.Get(sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return err
	}

	seq, err := h.events.Publish(sessionID, kind, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, bus.ErrTopicClosed):
			return echo.NewHTTPError(http.StatusGone, "session stream closed")
		case errors.Is(err, bus.ErrSessionPaused):
			return echo.NewHTTPError(http.StatusConflict, "session is paused")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.logger.Debug().
		Str("session_id", sessionID.String()).
		Str("kind", string(kind)).
		Uint64("sequence", seq).
		Msg("event published")

	return c.JSON(http.StatusAccepted, publishResponse{Sequence: seq})
}
