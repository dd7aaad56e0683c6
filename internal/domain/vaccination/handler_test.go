package vaccination

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

func newTestHandler() (*Handler, *Service, *fakeStock) {
	svc, _, _, stock := newTestService()
	return NewHandler(svc), svc, stock
}

func TestHandler_Record(t *testing.T) {
	h, _, _ := newTestHandler()
	e := echo.New()
	patient := uuid.New()
	body := `{"patient_id":"` + patient.String() + `","vaccine_name":"MMR"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asUser(req, uuid.New(), auth.RoleStaff)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Record(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var v Vaccination
	json.Unmarshal(rec.Body.Bytes(), &v)
	if v.DoseNumber != 1 || v.PatientID != patient {
		t.Errorf("unexpected dose: %+v", v)
	}
}

func TestHandler_Record_OutOfStock(t *testing.T) {
	h, _, stock := newTestHandler()
	item := uuid.New()
	stock.stock[item] = 0
	e := echo.New()
	body := `{"patient_id":"` + uuid.NewString() + `","vaccine_name":"BCG","inventory_item_id":"` + item.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asUser(req, uuid.New(), auth.RoleAdmin)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Record(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_List_PatientSeesOwn(t *testing.T) {
	h, svc, _ := newTestHandler()
	me := uuid.New()
	ctx := context.Background()
	svc.Record(ctx, RecordInput{PatientID: me, VaccineName: "MMR"}, uuid.New())
	svc.Record(ctx, RecordInput{PatientID: uuid.New(), VaccineName: "MMR"}, uuid.New())

	e := echo.New()
	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), me, auth.RolePatient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []Vaccination `json:"data"`
		Total int           `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Data) != 1 || resp.Data[0].PatientID != me {
		t.Errorf("expected only own dose, got %+v", resp)
	}
}

func TestHandler_List_PatientCannotViewOthers(t *testing.T) {
	h, _, _ := newTestHandler()
	e := echo.New()
	req := asUser(httptest.NewRequest(http.MethodGet, "/?patient_id="+uuid.NewString(), nil), uuid.New(), auth.RolePatient)
	c := e.NewContext(req, httptest.NewRecorder())
	err := h.List(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestHandler_List_StaffSeesAll(t *testing.T) {
	h, svc, _ := newTestHandler()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		svc.Record(ctx, RecordInput{PatientID: uuid.New(), VaccineName: "MMR"}, uuid.New())
	}
	e := echo.New()
	req := asUser(httptest.NewRequest(http.MethodGet, "/?limit=2", nil), uuid.New(), auth.RoleStaff)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []Vaccination `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 3 || len(resp.Data) != 2 || !resp.HasMore {
		t.Errorf("unexpected page: total=%d len=%d has_more=%v", resp.Total, len(resp.Data), resp.HasMore)
	}
}

func TestHandler_Due_BadDays(t *testing.T) {
	h, _, _ := newTestHandler()
	e := echo.New()
	req := asUser(httptest.NewRequest(http.MethodGet, "/?days=0", nil), uuid.New(), auth.RoleStaff)
	c := e.NewContext(req, httptest.NewRecorder())
	err := h.Due(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestRoutes_RecordRequiresStaff(t *testing.T) {
	h, _, _ := newTestHandler()
	e := echo.New()
	patient := uuid.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(asUser(c.Request(), patient, auth.RolePatient))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	body := `{"patient_id":"` + patient.String() + `","vaccine_name":"MMR"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/vaccinations", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

type brokenRepo struct{ *mockRepo }

func (brokenRepo) Create(context.Context, *Vaccination) error {
	return errors.New("connection refused")
}

func TestHandler_Record_ErrorStatus(t *testing.T) {
	svc, repo, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	staff := uuid.New()
	record := func(body string) *echo.HTTPError {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		c := e.NewContext(asUser(req, staff, auth.RoleStaff), httptest.NewRecorder())
		he, _ := h.Record(c).(*echo.HTTPError)
		return he
	}

	if he := record(`{"patient_id":"` + uuid.New().String() + `"}`); he == nil || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing vaccine name, got %v", he)
	}

	svc.repo = brokenRepo{repo}
	he := record(`{"patient_id":"` + uuid.New().String() + `","vaccine_name":"MMR"}`)
	if he == nil || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when storage fails, got %v", he)
	}
}
