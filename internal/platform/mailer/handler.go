package mailer

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/auth"
	"github.com/wecare/clinic/internal/platform/telemetry"
)

type Handler struct {
	sender Sender
	logger zerolog.Logger
}

func NewHandler(sender Sender, logger zerolog.Logger) *Handler {
	return &Handler{sender: sender, logger: logger.With().Str("component", "email").Logger()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/email/send", h.Send, auth.RequireStaff())
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (h *Handler) Send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid request body"})
	}
	if req.To == "" || req.Subject == "" || req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "to, subject and message are required"})
	}

	err := h.sender.SendEmail(c.Request().Context(), req.To, req.Subject, req.Message)
	if err != nil {
		telemetry.RecordNotification("email", "failed")
		status := http.StatusInternalServerError
		switch {
		case IsInputError(err):
			status = http.StatusBadRequest
		case errors.Is(err, ErrNotConfigured):
			status = http.StatusNotImplemented
		default:
			h.logger.Error().Err(err).Msg("email send failed")
		}
		return c.JSON(status, map[string]interface{}{"ok": false, "error": err.Error()})
	}
	telemetry.RecordNotification("email", "sent")
	h.logger.Info().Str("subject", req.Subject).Msg("email sent")
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "result": map[string]string{"to": req.To}})
}
