package mailer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMessage(t *testing.T) {
	assert.NoError(t, ValidateMessage("ana@example.com", "Hello", "Body"))
	assert.ErrorIs(t, ValidateMessage("not-an-address", "Hello", "Body"), ErrInvalidAddress)
	assert.ErrorIs(t, ValidateMessage("ana@example.com", " ", "Body"), ErrEmptySubject)
	assert.ErrorIs(t, ValidateMessage("ana@example.com", "Hello", ""), ErrEmptyBody)
}

func TestSMTP_NotConfigured(t *testing.T) {
	s := NewSMTP(Config{})
	assert.False(t, s.Configured())
	err := s.SendEmail(context.Background(), "ana@example.com", "Hi", "Body")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSMTP_Defaults(t *testing.T) {
	s := NewSMTP(Config{Host: "smtp.example.com"})
	assert.True(t, s.Configured())
	assert.Equal(t, 587, s.cfg.Port)
	assert.NotZero(t, s.cfg.Timeout)
}

func TestSMTP_NewMessage(t *testing.T) {
	s := NewSMTP(Config{Host: "smtp.example.com", From: "clinic@example.com"})
	m, err := s.newMessage("ana@example.com", "Reminder", "See you tomorrow")
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = s.newMessage("not an address", "Reminder", "See you tomorrow")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

type fakeSender struct {
	err   error
	calls int
}

func (f *fakeSender) SendEmail(context.Context, string, string, string) error {
	f.calls++
	return f.err
}

func post(h *Handler, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/email/send", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = h.Send(c)
	return rec
}

func TestHandler_Send(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
		calls  int
	}{
		{"ok", nil, `{"to":"ana@example.com","subject":"Hi","message":"Body"}`, http.StatusOK, 1},
		{"missing fields", nil, `{"to":"ana@example.com"}`, http.StatusBadRequest, 0},
		{"malformed", nil, `{`, http.StatusBadRequest, 0},
		{"bad address", ErrInvalidAddress, `{"to":"x","subject":"Hi","message":"Body"}`, http.StatusBadRequest, 1},
		{"not configured", ErrNotConfigured, `{"to":"ana@example.com","subject":"Hi","message":"Body"}`, http.StatusNotImplemented, 1},
		{"relay failure", errors.New("connection refused"), `{"to":"ana@example.com","subject":"Hi","message":"Body"}`, http.StatusInternalServerError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeSender{err: tt.err}
			rec := post(NewHandler(f, zerolog.Nop()), tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.calls, f.calls)
			if tt.status == http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"ok":true`)
			} else {
				assert.Contains(t, rec.Body.String(), `"ok":false`)
			}
		})
	}
}
