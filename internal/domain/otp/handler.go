package otp

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/wecare/clinic/internal/platform/auth"
	"github.com/wecare/clinic/internal/platform/sms"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/otp")
	g.POST("/send", h.Send)
	g.POST("/verify", h.Verify)
}

func fail(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]interface{}{"ok": false, "error": err.Error()})
}

func caller(c echo.Context) (uuid.UUID, error) {
	id, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func (h *Handler) Send(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}

	v, err := h.svc.Send(c.Request().Context(), me, req.Phone)
	var te *ThrottledError
	switch {
	case errors.As(err, &te):
		secs := int(te.RetryAfter.Seconds() + 0.999)
		if secs < 1 {
			secs = 1
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		return fail(c, http.StatusTooManyRequests, err)
	case errors.Is(err, sms.ErrInvalidPhone):
		return fail(c, http.StatusBadRequest, err)
	case err != nil:
		return fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":         true,
		"phone":      v.Phone,
		"expires_at": v.ExpiresAt,
	})
}

func (h *Handler) Verify(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}

	err = h.svc.Verify(c.Request().Context(), me, req.Phone, req.Code)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "verified": true})
	case errors.Is(err, ErrCodeExpired), errors.Is(err, ErrTooManyAttempts), errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrNotFound), errors.Is(err, errCodeRequired), errors.Is(err, sms.ErrInvalidPhone):
		return fail(c, http.StatusBadRequest, err)
	}
	return fail(c, http.StatusInternalServerError, err)
}
