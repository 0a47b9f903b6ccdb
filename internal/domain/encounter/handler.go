package encounter

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mdx-vision/mdx/internal/platform/auth"
	"github.com/mdx-vision/mdx/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	g.POST("/encounters", h.CreateEncounter)
	g.GET("/encounters", h.ListEncounters)
	g.GET("/encounters/:id", h.GetEncounter)
	g.PATCH("/encounters/:id/status", h.UpdateStatus)
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	var enc Encounter
	if err := c.Bind(&enc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if enc.PractitionerID == "" {
		enc.PractitionerID = auth.UserIDFromContext(c.Request().Context())
	}
	if err := h.svc.CreateEncounter(c.Request().Context(), &enc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	enc, err := h.svc.GetEncounter(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "encounter not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	pg := pagination.FromContext(c)

	if patientRef := c.QueryParam("patient_ref"); patientRef != "" {
		encs, total, err := h.svc.ListByPatient(c.Request().Context(), patientRef, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg.Limit, pg.Offset))
	}

	if practitionerID := c.QueryParam("practitioner_id"); practitionerID != "" {
		encs, total, err := h.svc.ListByPractitioner(c.Request().Context(), practitionerID, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg.Limit, pg.Offset))
	}

	encs, total, err := h.svc.ListEncounters(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encs, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	enc, err := h.svc.UpdateStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "encounter not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, enc)
}
