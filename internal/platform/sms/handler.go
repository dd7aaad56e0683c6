package sms

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wecare/clinic/internal/platform/auth"
	"github.com/wecare/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/sms", auth.RequireStaff())
	g.POST("/send", h.Send)
	g.POST("/:provider/send", h.SendVia)
	g.GET("/messages", h.List)
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// APIError writes the {ok:false,error} body shared by the outbound routes:
// 400 for bad input, 501 for an unconfigured provider, 500 otherwise.
func APIError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case IsInputError(err):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotConfigured):
		status = http.StatusNotImplemented
	}
	return c.JSON(status, map[string]interface{}{"ok": false, "error": err.Error()})
}

func (h *Handler) Send(c echo.Context) error {
	return h.send(c, "")
}

func (h *Handler) SendVia(c echo.Context) error {
	return h.send(c, c.Param("provider"))
}

func (h *Handler) send(c echo.Context, provider string) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid request body"})
	}
	if req.To == "" || req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "to and message are required"})
	}

	res, err := h.svc.Send(c.Request().Context(), provider, req.To, req.Message)
	if err != nil {
		return APIError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "result": res})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), c.QueryParam("phone"), pg.Limit, pg.Offset)
	if err != nil {
		if IsInputError(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
