package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/wecare/clinic/internal/platform/auth"
)

func asUser(req *http.Request, id uuid.UUID, role string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), id.String(), "", []string{role}))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_Send(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	req := asUser(jsonRequest(http.MethodPost, "/", `{"recipient_id":"`+env.nurse.String()+`","body":"hello"}`), env.patient, auth.RolePatient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Send(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var m Message
	json.Unmarshal(rec.Body.Bytes(), &m)
	if m.SenderID != env.patient || m.Body != "hello" {
		t.Errorf("unexpected message: %+v", m)
	}
}

func TestHandler_Send_Forbidden(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	req := asUser(jsonRequest(http.MethodPost, "/", `{"recipient_id":"`+env.other.String()+`","body":"hello"}`), env.patient, auth.RolePatient)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Send(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestHandler_Send_Unauthenticated(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{}`), httptest.NewRecorder())
	err := h.Send(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestHandler_Conversation_RequiresWith(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), env.patient, auth.RolePatient)
	c := e.NewContext(req, httptest.NewRecorder())
	err := h.Conversation(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_MarkReadAndUnread(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	env.svc.Send(context.Background(), env.patient, false, SendRequest{RecipientID: env.nurse, Body: "hi"})

	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), env.nurse, auth.RoleStaff)
	rec := httptest.NewRecorder()
	if err := h.UnreadCount(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Errorf("expected count 1, got %s", rec.Body.String())
	}

	req = asUser(jsonRequest(http.MethodPost, "/", `{"with":"`+env.patient.String()+`"}`), env.nurse, auth.RoleStaff)
	rec = httptest.NewRecorder()
	if err := h.MarkRead(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"updated":1`) {
		t.Errorf("expected updated 1, got %s", rec.Body.String())
	}
}

func TestRoutes_ConversationsRequireStaff(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(asUser(c.Request(), env.patient, auth.RolePatient))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messages/conversations", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messages/unread-count", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for unread count, got %d", rec.Code)
	}
}
