// Package webhook receives form-encoded SMS provider callbacks: delivery
// receipts and inbound replies, including opt-out keywords.
package webhook

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/sms"
	"github.com/wecare/clinic/internal/platform/telemetry"
)

// OptOutStore flips the sms_opt_out flag for every profile with phone and
// returns how many profiles changed.
type OptOutStore interface {
	SetSMSOptOut(ctx context.Context, phone string, optOut bool) (int, error)
}

var (
	optOutKeywords = map[string]bool{"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true, "CANCEL": true, "END": true, "QUIT": true}
	optInKeywords  = map[string]bool{"START": true, "UNSTOP": true, "YES": true}
)

type Config struct {
	// TwilioAuthToken enables X-Twilio-Signature verification.
	TwilioAuthToken string
	// PublicBaseURL is the externally visible origin used to rebuild the
	// signed URL behind a proxy. Empty means scheme and host of the request.
	PublicBaseURL string
}

type Handler struct {
	cfg     Config
	store   sms.Store
	optOuts OptOutStore
	logger  zerolog.Logger
}

func NewHandler(cfg Config, store sms.Store, optOuts OptOutStore, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		store:   store,
		optOuts: optOuts,
		logger:  logger.With().Str("component", "sms_webhook").Logger(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/webhooks/sms/:provider")
	g.POST("/status", h.Status)
	g.POST("/inbound", h.Inbound)
}

// Keyword classifies an inbound body: "opt_out", "opt_in" or "".
func Keyword(body string) string {
	fields := strings.Fields(strings.ToUpper(body))
	if len(fields) == 0 {
		return ""
	}
	word := strings.Trim(fields[0], ".!")
	switch {
	case optOutKeywords[word]:
		return "opt_out"
	case optInKeywords[word]:
		return "opt_in"
	}
	return ""
}

func formValue(c echo.Context, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(c.FormValue(n)); v != "" {
			return v
		}
	}
	return ""
}

func (h *Handler) verify(c echo.Context, provider string) error {
	if provider != sms.ProviderTwilio || h.cfg.TwilioAuthToken == "" {
		return nil
	}
	req := c.Request()
	if err := req.ParseForm(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form body")
	}

	base := strings.TrimRight(h.cfg.PublicBaseURL, "/")
	if base == "" {
		base = c.Scheme() + "://" + req.Host
	}
	fullURL := base + req.URL.RequestURI()

	if !VerifyTwilioSignature(h.cfg.TwilioAuthToken, fullURL, req.PostForm, req.Header.Get("X-Twilio-Signature")) {
		h.logger.Warn().Str("url", fullURL).Msg("rejected callback with bad signature")
		return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
	}
	return nil
}

func (h *Handler) ack(c echo.Context, provider string) error {
	if provider == sms.ProviderTwilio {
		return c.Blob(http.StatusOK, "text/xml; charset=utf-8", []byte(`<?xml version="1.0" encoding="UTF-8"?><Response/>`))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// Status applies a delivery receipt to the outbound log.
func (h *Handler) Status(c echo.Context) error {
	provider := c.Param("provider")
	if !sms.KnownProvider(provider) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown provider")
	}
	if err := h.verify(c, provider); err != nil {
		return err
	}
	telemetry.RecordSMSWebhook(provider, "status")

	messageID := formValue(c, "MessageSid", "SmsSid", "message_id")
	status := strings.ToLower(formValue(c, "MessageStatus", "SmsStatus", "status"))
	if messageID == "" || status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message id and status are required")
	}

	var errMsg *string
	if code := formValue(c, "ErrorCode", "error_code"); code != "" {
		errMsg = &code
	}

	found, err := h.store.UpdateStatus(c.Request().Context(), provider, messageID, status, errMsg)
	if err != nil {
		h.logger.Error().Err(err).Str("message_id", messageID).Msg("apply delivery receipt")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record status")
	}
	evt := h.logger.Info()
	if !found {
		evt = h.logger.Warn()
	}
	evt.Str("provider", provider).Str("message_id", messageID).Str("status", status).Bool("matched", found).Msg("delivery receipt")

	return h.ack(c, provider)
}

// Inbound handles replies. Opt-out and opt-in keywords update the sender's
// profiles; every reply is stored in the SMS log.
func (h *Handler) Inbound(c echo.Context) error {
	provider := c.Param("provider")
	if !sms.KnownProvider(provider) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown provider")
	}
	if err := h.verify(c, provider); err != nil {
		return err
	}
	telemetry.RecordSMSWebhook(provider, "inbound")

	from := formValue(c, "From", "from", "number")
	body := formValue(c, "Body", "body", "message")
	if from == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sender is required")
	}

	ctx := c.Request().Context()
	phone, normErr := sms.NormalizePH(from)
	if normErr != nil {
		phone = from
	}

	status := sms.StatusReceived
	if kw := Keyword(body); kw != "" {
		status = kw
		if normErr != nil {
			h.logger.Warn().Str("from", sms.MaskPhone(from)).Str("keyword", kw).Msg("keyword from unrecognised number")
		} else {
			n, err := h.optOuts.SetSMSOptOut(ctx, phone, kw == "opt_out")
			if err != nil {
				h.logger.Error().Err(err).Str("from", sms.MaskPhone(phone)).Msg("update sms opt-out")
				return echo.NewHTTPError(http.StatusInternalServerError, "failed to update preferences")
			}
			h.logger.Info().Str("from", sms.MaskPhone(phone)).Str("keyword", kw).Int("profiles", n).Msg("sms preference updated")
		}
	}

	msg := &sms.Message{
		Provider:  provider,
		Direction: sms.DirectionInbound,
		Phone:     phone,
		Body:      body,
		Status:    status,
	}
	if sid := formValue(c, "MessageSid", "SmsSid", "message_id"); sid != "" {
		msg.ProviderMessageID = &sid
	}
	if err := h.store.Create(ctx, msg); err != nil {
		h.logger.Error().Err(err).Msg("store inbound sms")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store message")
	}
	if status == sms.StatusReceived {
		h.logger.Info().Str("provider", provider).Str("from", sms.MaskPhone(phone)).Msg("inbound sms")
	}

	return h.ack(c, provider)
}
