package appointment

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
	g := api.Group("/appointments")
	g.GET("/services", h.Services)
	g.POST("/validate", h.ValidateStep)
	g.POST("", h.Book)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/cancel", h.Cancel)

	triage := g.Group("", auth.RequireStaff())
	triage.POST("/:id/approve", h.Approve)
	triage.POST("/:id/decline", h.Decline)
	triage.POST("/:id/complete", h.Complete)
}

func caller(c echo.Context) (uuid.UUID, error) {
	id, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func errorStatus(err error) error {
	var fe FieldErrors
	switch {
	case errors.As(err, &fe):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{"errors": fe})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return validation.HTTPError(err)
}

func (h *Handler) Services(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"services": h.svc.Validator().Services()})
}

// ValidateStep checks a single wizard step (?step=1..3) without saving.
func (h *Handler) ValidateStep(c echo.Context) error {
	step, err := strconv.Atoi(c.QueryParam("step"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "step must be 1, 2 or 3")
	}
	var b Booking
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errs := h.svc.Validator().Step(step, &b); errs != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{"errors": errs})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"valid": true, "booking": b})
}

func (h *Handler) Book(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	var b Booking
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Book(c.Request().Context(), uid, b)
	if err != nil {
		var fe FieldErrors
		if errors.As(err, &fe) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{"errors": fe})
		}
		return errorStatus(err)
	}
	return c.JSON(http.StatusCreated, a)
}

// List returns the caller's own appointments; staff see every patient's and
// may filter by ?status= and ?patient_id=.
func (h *Handler) List(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	f := ListFilter{Status: c.QueryParam("status")}
	if auth.IsStaff(ctx) {
		if p := c.QueryParam("patient_id"); p != "" {
			pid, err := uuid.Parse(p)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
			}
			f.PatientID = &pid
		}
	} else {
		f.PatientID = &uid
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return validation.HTTPError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return errorStatus(err)
	}
	if a.PatientID != uid && !auth.IsStaff(c.Request().Context()) {
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	uid, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Cancel(c.Request().Context(), id, uid)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, a)
}

type declineRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Approve(c echo.Context) error {
	return h.triage(c, func(id, admin uuid.UUID) (*Result, error) {
		return h.svc.Approve(c.Request().Context(), id, admin)
	})
}

func (h *Handler) Decline(c echo.Context) error {
	var req declineRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return h.triage(c, func(id, admin uuid.UUID) (*Result, error) {
		return h.svc.Decline(c.Request().Context(), id, admin, req.Reason)
	})
}

func (h *Handler) Complete(c echo.Context) error {
	return h.triage(c, func(id, admin uuid.UUID) (*Result, error) {
		return h.svc.Complete(c.Request().Context(), id, admin)
	})
}

func (h *Handler) triage(c echo.Context, action func(id, admin uuid.UUID) (*Result, error)) error {
	admin, err := caller(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	res, err := action(id, admin)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, res)
}
