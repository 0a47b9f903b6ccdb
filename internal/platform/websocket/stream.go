// Package websocket streams session events to WebSocket clients. Each
// connection is backed by one bus subscription; the bus owns ordering and
// slow-consumer policy, this package only moves frames.
package websocket

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mdx-vision/mdx/internal/domain/session"
	"github.com/mdx-vision/mdx/internal/platform/bus"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	// Close codes surfaced to clients when the server ends the stream.
	closeSlowConsumer = 4008
	closeTopicClosed  = 4010
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// StreamHandler upgrades HTTP connections and pumps session events to them.
type StreamHandler struct {
	events *bus.Bus
	reg    *session.Registry
	logger zerolog.Logger
}

func NewStreamHandler(events *bus.Bus, reg *session.Registry, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{events: events, reg: reg, logger: logger}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (h *StreamHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws/sessions/:id", h.HandleConnect)
}

// HandleConnect subscribes the caller to a session's event stream. The
// optional replay query parameter requests that many retained events before
// live delivery begins.
func (h *StreamHandler) HandleConnect(c echo.Context) error {
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

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.events.Unsubscribe(sub)
		return err
	}

	go h.writePump(ws, sub, sessionID)
	go h.readPump(ws, sub)

	return nil
}

// writePump forwards bus events to the connection until the subscription
// closes, then tells the client why.
func (h *StreamHandler) writePump(ws *gorillawebsocket.Conn, sub *bus.Subscription, sessionID uuid.UUID) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				h.sendClose(ws, sub.Reason(), sessionID)
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) sendClose(ws *gorillawebsocket.Conn, reason bus.CloseReason, sessionID uuid.UUID) {
	code := gorillawebsocket.CloseNormalClosure
	switch reason {
	case bus.ReasonSlowConsumer:
		code = closeSlowConsumer
		h.logger.Warn().Str("session_id", sessionID.String()).Msg("websocket client detached as slow consumer")
	case bus.ReasonTopicClosed:
		code = closeTopicClosed
	}

	msg := gorillawebsocket.FormatCloseMessage(code, string(reason))
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	ws.WriteMessage(gorillawebsocket.CloseMessage, msg)
}

// readPump drains inbound frames so pongs and close handshakes are
// processed, and detaches the subscription when the client goes away.
func (h *StreamHandler) readPump(ws *gorillawebsocket.Conn, sub *bus.Subscription) {
	defer func() {
		h.events.Unsubscribe(sub)
		ws.Close()
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
