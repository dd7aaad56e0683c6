package messaging

import (
	"errors"
	"net/http"

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
	g := api.Group("/messages")
	g.POST("", h.Send)
	g.GET("", h.Conversation)
	g.POST("/read", h.MarkRead)
	g.GET("/unread-count", h.UnreadCount)
	g.GET("/conversations", h.Conversations, auth.RequireStaff())
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
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	m, err := h.svc.Send(ctx, me, auth.IsStaff(ctx), req)
	switch {
	case errors.Is(err, ErrRecipientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case err != nil:
		return validation.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Conversation(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	with, err := uuid.Parse(c.QueryParam("with"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "with must be a user id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Conversation(c.Request().Context(), me, with, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) MarkRead(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	var req struct {
		With uuid.UUID `json:"with"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.MarkRead(c.Request().Context(), me, req.With)
	if err != nil {
		return validation.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) UnreadCount(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), me)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) Conversations(c echo.Context) error {
	me, err := caller(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Conversations(c.Request().Context(), me)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, out)
}
