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

type SemaphoreConfig struct {
	APIKey     string
	SenderName string
	BaseURL    string
	HTTPClient *http.Client
}

// Semaphore sends through the Semaphore (semaphore.co) v4 messages API.
type Semaphore struct {
	cfg    SemaphoreConfig
	client *http.Client
}

func NewSemaphore(cfg SemaphoreConfig) *Semaphore {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.semaphore.co"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Semaphore{cfg: cfg, client: client}
}

func (s *Semaphore) Name() string { return ProviderSemaphore }

type semaphoreMessage struct {
	MessageID json.Number `json:"message_id"`
	Recipient string      `json:"recipient"`
	Status    string      `json:"status"`
}

func (s *Semaphore) Send(ctx context.Context, to, body string) (*Result, error) {
	form := url.Values{}
	form.Set("apikey", s.cfg.APIKey)
	// Semaphore expects the national format without the plus sign.
	form.Set("number", strings.TrimPrefix(to, "+"))
	form.Set("message", body)
	if s.cfg.SenderName != "" {
		form.Set("sendername", s.cfg.SenderName)
	}

	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/api/v4/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build semaphore request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderSemaphore, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{Provider: ProviderSemaphore, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	// Validation failures come back as 200 with an object of field errors
	// instead of the message array.
	var msgs []semaphoreMessage
	if err := json.Unmarshal(raw, &msgs); err != nil || len(msgs) == 0 {
		return nil, &ProviderError{Provider: ProviderSemaphore, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	status := strings.ToLower(msgs[0].Status)
	if status == "" {
		status = "pending"
	}
	return &Result{
		Provider:  ProviderSemaphore,
		MessageID: msgs[0].MessageID.String(),
		Status:    status,
		To:        to,
		Raw:       json.RawMessage(raw),
	}, nil
}
