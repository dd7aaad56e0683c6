package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

const (
	ProviderSemaphore = "semaphore"
	ProviderTwilio    = "twilio"
)

var (
	ErrNotConfigured   = errors.New("sms provider not configured")
	ErrUnknownProvider = errors.New("unknown sms provider")
)

// Provider sends one SMS. to is E.164 (+639XXXXXXXXX).
type Provider interface {
	Name() string
	Send(ctx context.Context, to, body string) (*Result, error)
}

// Result describes an accepted outbound message.
type Result struct {
	Provider  string          `json:"provider"`
	MessageID string          `json:"message_id"`
	Status    string          `json:"status"`
	To        string          `json:"to"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// ProviderError is a rejection or transport failure reported by a provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// KnownProvider reports whether name is a supported provider, configured or not.
func KnownProvider(name string) bool {
	return name == ProviderSemaphore || name == ProviderTwilio
}

// Registry resolves providers by name. Only configured providers are
// registered; a known but absent name yields ErrNotConfigured.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

func NewRegistry(defaultName string, providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider), defaultName: defaultName}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	if !KnownProvider(name) {
		if _, ok := r.providers[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
		}
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, name)
	}
	return p, nil
}

// Default returns the provider selected by SMS_PROVIDER.
func (r *Registry) Default() (Provider, error) {
	return r.Get("")
}

// Names lists configured providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
