// Package sse streams session events over Server-Sent Events for clients
// that cannot hold a WebSocket (dashboards behind strict proxies, curl).
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mdx-vision/mdx/internal/domain/session"
	"github.com/mdx-vision/mdx/internal/platform/bus"
)

// StreamHandler serves one bus subscription per SSE request.
type StreamHandler struct {
	events *bus.Bus
	reg    *session.Registry
	logger zerolog.Logger
}

func NewStreamHandler(events *bus.Bus, reg *session.Registry, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{events: events, reg: reg, logger: logger}
}

// RegisterRoutes registers the SSE endpoint on the provided Echo group.
func (h *StreamHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/sessions/:id/stream", h.HandleStream)
}

// HandleStream writes the session's events as SSE frames until the client
// disconnects or the topic is torn down. The optional replay query
// parameter requests retained events before live delivery.
func (h *StreamHandler) HandleStream(c echo.Context) error {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}

	replay := 0
	if raw := c.QueryParam("replay"); raw != "" {
		replay, err = strconv.Atoi(raw)
		if err != nil || replay < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid replay count")
		}
	}

	if _, err := h.reg.Get(sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return err
	}

	sub, err := h.events.Subscribe(sessionID, bus.SubscribeOptions{Replay: replay})
	if err != nil {
		if errors.Is(err, bus.ErrTopicClosed) {
			return echo.NewHTTPError(http.StatusGone, "session stream closed")
		}
		return err
	}
	defer h.events.Unsubscribe(sub)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.Events():
			if !ok {
				h.writeCloseFrame(resp, sub.Reason(), sessionID)
				return nil
			}
			if err := writeEvent(resp, evt); err != nil {
				return nil
			}
		}
	}
}

// writeEvent emits one SSE frame. The bus sequence doubles as the SSE event
// id so clients can resume with replay after a reconnect.
func writeEvent(resp *echo.Response, evt bus.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "id: %d\nevent: %s\ndata: %s\n\n", evt.Sequence, evt.Kind, data); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

func (h *StreamHandler) writeCloseFrame(resp *echo.Response, reason bus.CloseReason, sessionID uuid.UUID) {
	if reason == bus.ReasonSlowConsumer {
		h.logger.Warn().Str("session_id", sessionID.String()).Msg("sse client detached as slow consumer")
	}
	fmt.Fprintf(resp, "event: stream_closed\ndata: {\"reason\":%q}\n\n", string(reason))
	resp.Flush()
}
