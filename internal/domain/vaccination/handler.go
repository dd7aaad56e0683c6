package vaccination

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/wecare/clinic/internal/domain/inventory"
	"github.com/wecare/clinic/internal/platform/auth"
	"github.com/wecare/clinic/pkg/pagination"
	"github.com/wecare/clinic/pkg/validation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/vaccinations", h.List)

	staff := api.Group("/vaccinations", auth.RequireStaff())
	staff.POST("", h.Record)
	staff.GET("/summary", h.Summary)
	staff.GET("/due", h.Due)
	staff.DELETE("/:id", h.Delete)
}

func errorStatus(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, inventory.ErrInsufficientStock):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnknownReference):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return validation.HTTPError(err)
}

func (h *Handler) Record(c echo.Context) error {
	ctx := c.Request().Context()
	staffID, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var in RecordInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.Record(ctx, in, staffID)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusCreated, v)
}

// List returns a patient's history when patient_id is given. Patients always
// get their own history; staff without a filter get every dose, paginated.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	me, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	raw := c.QueryParam("patient_id")
	if !auth.IsStaff(ctx) {
		if raw != "" && raw != me.String() {
			return echo.NewHTTPError(http.StatusForbidden, "patients may only view their own vaccinations")
		}
		raw = me.String()
	}

	if raw != "" {
		patientID, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, err := h.svc.ListByPatient(ctx, patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), len(items), 0))
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return errorStatus(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Summary(c echo.Context) error {
	out, err := h.svc.Summary(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patients": out, "total": len(out)})
}

func (h *Handler) Due(c echo.Context) error {
	days := DefaultDueDays
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be between 1 and 365")
		}
		days = n
	}
	items, err := h.svc.Due(c.Request().Context(), days)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"days": days, "items": items})
}
