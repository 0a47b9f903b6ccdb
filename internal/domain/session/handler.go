package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mdx-vision/mdx/internal/platform/auth"
	"github.com/mdx-vision/mdx/pkg/pagination"
)

// Handler exposes the session control surface: start, pause, resume,
// end, status. Live state comes from the coordinator's registry; listing
// history comes from the durable repository.
type Handler struct {
	coord *Coordinator
	repo  Repository
}

func NewHandler(coord *Coordinator, repo Repository) *Handler {
	return &Handler{coord: coord, repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	g.POST("/sessions", h.StartSession)
	g.GET("/sessions", h.ListSessions)
	g.GET("/sessions/:id", h.GetSession)
	g.POST("/sessions/:id/pause", h.PauseSession)
	g.POST("/sessions/:id/resume", h.ResumeSession)
	g.POST("/sessions/:id/end", h.EndSession)
}

type startRequest struct {
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
	Settings    Settings   `json:"settings"`
}

func (h *Handler) StartSession(c echo.Context) error {
	callerID := auth.UserIDFromContext(c.Request().Context())
	if callerID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
	}

	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess, err := h.coord.Start(c.Request().Context(), callerID, req.EncounterID, req.Settings)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	sess, err := h.coord.Status(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		// Evicted from the registry; fall back to durable history.
		sess, err = h.repo.GetByID(c.Request().Context(), id)
	}
	if err != nil {
		return sessionHTTPError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) ListSessions(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	if ownerID := c.QueryParam("owner_id"); ownerID != "" {
		sessions, total, err := h.repo.ListByOwner(ctx, ownerID, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(sessions, total, pg.Limit, pg.Offset))
	}

	sessions, total, err := h.repo.List(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(sessions, total, pg.Limit, pg.Offset))
}

func (h *Handler) PauseSession(c echo.Context) error {
	return h.transition(c, h.coord.Pause)
}

func (h *Handler) ResumeSession(c echo.Context) error {
	return h.transition(c, h.coord.Resume)
}

func (h *Handler) EndSession(c echo.Context) error {
	return h.transition(c, h.coord.End)
}

type transitionFunc func(ctx context.Context, id uuid.UUID, callerID string) (*Session, error)

func (h *Handler) transition(c echo.Context, op transitionFunc) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	callerID := auth.UserIDFromContext(c.Request().Context())
	if callerID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
	}

	sess, err := op(c.Request().Context(), id, callerID)
	if err != nil {
		return sessionHTTPError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// sessionHTTPError maps the session error taxonomy onto HTTP statuses.
func sessionHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, "caller is not the session owner")
	case errors.Is(err, ErrAlreadyEnded):
		return echo.NewHTTPError(http.StatusGone, "session already ended")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, "invalid state transition")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
