package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	// StatusCallback, when set, is passed so Twilio posts delivery receipts.
	StatusCallback string
	HTTPClient     *http.Client
}

// Twilio sends through the Programmable Messaging REST API.
type Twilio struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Twilio{cfg: cfg, client: client}
}

func (t *Twilio) Name() string { return ProviderTwilio }

type twilioMessage struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *Twilio) Send(ctx context.Context, to, body string) (*Result, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.cfg.FromNumber)
	form.Set("Body", body)
	if t.cfg.StatusCallback != "" {
		form.Set("StatusCallback", t.cfg.StatusCallback)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(t.cfg.BaseURL, "/"), url.PathEscape(t.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build twilio request: %w", err)
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderTwilio, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var te twilioError
		if json.Unmarshal(raw, &te) == nil && te.Message != "" {
			msg = fmt.Sprintf("%s (code %d)", te.Message, te.Code)
		}
		return nil, &ProviderError{Provider: ProviderTwilio, StatusCode: resp.StatusCode, Message: msg}
	}

	var m twilioMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &ProviderError{Provider: ProviderTwilio, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	if m.ErrorCode != nil && m.ErrorMessage != nil {
		return nil, &ProviderError{Provider: ProviderTwilio, StatusCode: resp.StatusCode, Message: *m.ErrorMessage}
	}
	return &Result{
		Provider:  ProviderTwilio,
		MessageID: m.SID,
		Status:    strings.ToLower(m.Status),
		To:        to,
		Raw:       json.RawMessage(raw),
	}, nil
}
