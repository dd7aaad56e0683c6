package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_Create(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"name":"Paracetamol","stock":4,"low_stock_threshold":5,"unit_cost":"2.50"}`), rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["low_stock"] != true {
		t.Errorf("expected low_stock flag, got %v", got["low_stock"])
	}
	if got["unit_cost"] != "2.5" || got["stock_value"] != "10" {
		t.Errorf("unexpected money fields %v / %v", got["unit_cost"], got["stock_value"])
	}
}

func TestHandler_Create_BadRequest(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"stock":-1}`), httptest.NewRecorder())
	if err := h.Create(c); err == nil {
		t.Error("expected error for invalid item")
	}
}

func TestHandler_Adjust_Conflict(t *testing.T) {
	h, e := newTestHandler()
	it, _ := h.svc.Create(context.Background(), ItemInput{Name: "Masks", Stock: 1})

	c := e.NewContext(jsonRequest(http.MethodPost, `{"delta":-2,"reason":"used"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(it.ID.String())
	err := h.Adjust(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}

	rec := httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, `{"delta":5}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(it.ID.String())
	if err := h.Adjust(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Item
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Stock != 6 {
		t.Errorf("expected stock 6, got %d", got.Stock)
	}
}

func TestHandler_List_BadDays(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?filter=expiring&days=0", nil), httptest.NewRecorder())
	err := h.List(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Alerts(t *testing.T) {
	h, e := newTestHandler()
	h.svc.Create(context.Background(), ItemInput{Name: "Soon", Stock: 10, ExpiryDate: "2026-03-25"})

	rec := httptest.NewRecorder()
	if err := h.Alerts(e.NewContext(httptest.NewRequest(http.MethodGet, "/?days=7", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var a struct {
		Days     int               `json:"days"`
		Expiring []json.RawMessage `json:"expiring"`
	}
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.Days != 7 || len(a.Expiring) != 0 {
		t.Errorf("expected nothing expiring within 7 days, got %+v", a)
	}

	rec = httptest.NewRecorder()
	h.Alerts(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.Days != 30 || len(a.Expiring) != 1 {
		t.Errorf("expected one item expiring within 30 days, got %+v", a)
	}
}

func TestHandler_Delete_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("00000000-0000-0000-0000-000000000099")
	err := h.Delete(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

type brokenRepo struct{ *mockRepo }

func (brokenRepo) Create(context.Context, *Item) error {
	return errors.New("connection refused")
}

func TestHandler_Create_ErrorStatus(t *testing.T) {
	svc, repo, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	c := e.NewContext(jsonRequest(http.MethodPost, `{"name":"","stock":1}`), httptest.NewRecorder())
	he, ok := h.Create(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing name, got %v", he)
	}

	svc.repo = brokenRepo{repo}
	c = e.NewContext(jsonRequest(http.MethodPost, `{"name":"Gauze","stock":1}`), httptest.NewRecorder())
	he, ok = h.Create(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when storage fails, got %v", he)
	}
}
