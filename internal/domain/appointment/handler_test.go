package appointment

import (
	"context"
	"encoding/json"
	"errors"
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

const bookingJSON = `{"full_name":"Juan Dela Cruz","age":34,"sex":"male","contact_number":"09171234567",
	"address":"Quezon City","service":"Vaccination","preferred_date":"2026-03-12","preferred_time":"09:30","agreed":true}`

func TestHandler_ValidateStep(t *testing.T) {
	env := newTestEnv()
	h, e := NewHandler(env.svc), echo.New()

	req := asUser(jsonRequest(http.MethodPost, "/?step=1", `{"full_name":"","age":200,"sex":"male","contact_number":"123","address":"x"}`), env.patient, "patient")
	rec := httptest.NewRecorder()
	if err := h.ValidateStep(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp struct {
		Errors map[string]string `json:"errors"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	for _, f := range []string{"full_name", "age", "contact_number"} {
		if resp.Errors[f] == "" {
			t.Errorf("expected error on %s", f)
		}
	}
	if _, ok := resp.Errors["service"]; ok {
		t.Error("step 1 should not validate step 2 fields")
	}

	req = asUser(jsonRequest(http.MethodPost, "/?step=3", `{"agreed":true}`), env.patient, "patient")
	rec = httptest.NewRecorder()
	h.ValidateStep(e.NewContext(req, rec))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for a valid step, got %d", rec.Code)
	}
}

func TestHandler_ValidateStep_BadStep(t *testing.T) {
	env := newTestEnv()
	h, e := NewHandler(env.svc), echo.New()
	req := jsonRequest(http.MethodPost, "/?step=abc", `{}`)
	if err := h.ValidateStep(e.NewContext(req, httptest.NewRecorder())); err == nil {
		t.Error("expected error for non-numeric step")
	}
}

func TestHandler_Book(t *testing.T) {
	env := newTestEnv()
	h, e := NewHandler(env.svc), echo.New()

	req := asUser(jsonRequest(http.MethodPost, "/", bookingJSON), env.patient, "patient")
	rec := httptest.NewRecorder()
	if err := h.Book(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var a Appointment
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.PatientID != env.patient || a.Status != StatusPending {
		t.Errorf("unexpected appointment %+v", a)
	}
}

func TestHandler_Book_Invalid(t *testing.T) {
	env := newTestEnv()
	h, e := NewHandler(env.svc), echo.New()

	req := asUser(jsonRequest(http.MethodPost, "/", `{"full_name":"Juan"}`), env.patient, "patient")
	rec := httptest.NewRecorder()
	if err := h.Book(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestHandler_List_PatientSeesOwn(t *testing.T) {
	env := newTestEnv()
	h, e := NewHandler(env.svc), echo.New()
	env.book(t)
	other := validBooking()
	env.svc.Book(context.Background(), uuid.New(), other)

	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), env.patient, "patient")
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("patient should only see own appointments, got %d", resp.Total)
	}

	req = asUser(httptest.NewRequest(http.MethodGet, "/?status=pending", nil), env.admin, "admin")
	rec = httptest.NewRecorder()
	h.List(e.NewContext(req, rec))
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("staff should see every pending appointment, got %d", resp.Total)
	}
}

func TestHandler_Get_HidesOthersAppointments(t *testing.T) {
	env := newTestEnv()
	h, e := NewHandler(env.svc), echo.New()
	a := env.book(t)

	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New(), "patient")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_Approve_ConflictOnSecondAdmin(t *testing.T) {
	env := newTestEnv()
	h, e := NewHandler(env.svc), echo.New()
	a := env.book(t)

	approve := func() (*httptest.ResponseRecorder, error) {
		req := asUser(httptest.NewRequest(http.MethodPost, "/", nil), env.admin, "admin")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(a.ID.String())
		return rec, h.Approve(c)
	}

	rec, err := approve()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res struct {
		SMSSent     bool        `json:"sms_sent"`
		Appointment Appointment `json:"appointment"`
	}
	json.Unmarshal(rec.Body.Bytes(), &res)
	if !res.SMSSent || res.Appointment.Status != StatusApproved {
		t.Errorf("unexpected result %+v", res)
	}

	_, err = approve()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_Decline_WithReason(t *testing.T) {
	env := newTestEnv()
	h, e := NewHandler(env.svc), echo.New()
	a := env.book(t)

	req := asUser(jsonRequest(http.MethodPost, "/", `{"reason":"Doctor unavailable"}`), env.admin, "admin")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.Decline(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := env.repo.items[a.ID]; got.DeclineReason == nil || *got.DeclineReason != "Doctor unavailable" {
		t.Errorf("expected reason stored, got %v", got.DeclineReason)
	}
	calls := env.sms.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].Body, "Reason: Doctor unavailable") {
		t.Errorf("expected reason in SMS, got %+v", calls)
	}
}

func TestRoutes_TriageRequiresStaff(t *testing.T) {
	env := newTestEnv()
	h, e := NewHandler(env.svc), echo.New()
	a := env.book(t)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(asUser(c.Request(), env.patient, "patient"))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/approve", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

type brokenRepo struct{ *mockRepo }

func (brokenRepo) Transition(context.Context, uuid.UUID, Transition) (*Appointment, error) {
	return nil, errors.New("conn reset by peer")
}

func TestHandler_Triage_ErrorStatus(t *testing.T) {
	env := newTestEnv()
	h, e := NewHandler(env.svc), echo.New()
	a := env.book(t)

	decline := func() error {
		body := `{"reason":"` + strings.Repeat("x", maxReasonLength+1) + `"}`
		req := asUser(jsonRequest(http.MethodPost, "/", body), env.admin, "admin")
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(a.ID.String())
		return h.Decline(c)
	}
	he, ok := decline().(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an overlong reason, got %v", he)
	}

	env.svc.repo = brokenRepo{env.repo}
	req := asUser(httptest.NewRequest(http.MethodPost, "/", nil), env.admin, "admin")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	he, ok = h.Approve(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when storage fails, got %v", he)
	}
	if strings.Contains(he.Message.(string), "conn reset") {
		t.Error("storage error leaked to the client")
	}
}
