package inventory

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	g := api.Group("/inventory", auth.RequireStaff())
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/alerts", h.Alerts)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/adjust", h.Adjust)
}

func errorStatus(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInsufficientStock):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return validation.HTTPError(err)
}

func daysParam(c echo.Context) (int, error) {
	raw := c.QueryParam("days")
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 || days > 365 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "days must be between 1 and 365")
	}
	return days, nil
}

func (h *Handler) view(it *Item, days int) ItemView {
	if days <= 0 {
		days = h.svc.ExpiryDays()
	}
	return View(it, h.svc.Today(), days)
}

func (h *Handler) Create(c echo.Context) error {
	var in ItemInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	it, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusCreated, h.view(it, 0))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	it, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, h.view(it, 0))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in ItemInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	it, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, h.view(it, 0))
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

// List supports ?q= (name search), ?filter=low-stock|expiring|expired and
// ?days= for the expiring window.
func (h *Handler) List(c echo.Context) error {
	days, err := daysParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := ListFilter{Query: c.QueryParam("q"), Filter: c.QueryParam("filter"), Days: days}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return validation.HTTPError(err)
	}
	views := make([]ItemView, 0, len(items))
	for _, it := range items {
		views = append(views, h.view(it, days))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

func (h *Handler) Adjust(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var adj Adjustment
	if err := c.Bind(&adj); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	it, err := h.svc.Adjust(c.Request().Context(), id, adj)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, h.view(it, 0))
}

func (h *Handler) Alerts(c echo.Context) error {
	days, err := daysParam(c)
	if err != nil {
		return err
	}
	alerts, err := h.svc.Alerts(c.Request().Context(), days)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, alerts)
}
