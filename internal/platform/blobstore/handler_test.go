package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/wecare/clinic/internal/platform/auth"
)

func requestAs(req *http.Request, userID string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), userID, "", roles))
}

func multipartBody(t *testing.T, fields map[string]string, fileName, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	w.Close()
	return &buf, w.FormDataContentType()
}

func upload(t *testing.T, h *Handler, userID string, roles []string, fields map[string]string, fileName, contentType string, content []byte) (*httptest.ResponseRecorder, error) {
	body, ct := multipartBody(t, fields, fileName, contentType, content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set(echo.HeaderContentType, ct)
	req = requestAs(req, userID, roles...)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	return rec, h.Upload(c)
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_Upload(t *testing.T) {
	h := NewHandler(NewInMemoryStore())

	rec, err := upload(t, h, "patient-1", []string{auth.RolePatient}, map[string]string{"category": "avatar"}, "me.png", "", pngHeader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var meta Metadata
	json.Unmarshal(rec.Body.Bytes(), &meta)
	if meta.OwnerID != "patient-1" || meta.ContentType != "image/png" || meta.Category != "avatar" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestHandler_UploadRejectsHTML(t *testing.T) {
	h := NewHandler(NewInMemoryStore())
	_, err := upload(t, h, "patient-1", []string{auth.RolePatient}, nil, "x.html", "text/html", []byte("<html></html>"))
	if code := httpCode(t, err); code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", code)
	}
}

func TestHandler_UploadRejectsHTMLDeclaredAsImage(t *testing.T) {
	store := NewInMemoryStore()
	h := NewHandler(store)
	_, err := upload(t, h, "patient-1", []string{auth.RolePatient}, nil, "x.html", "image/png", []byte("<html><script>alert(1)</script></html>"))
	if code := httpCode(t, err); code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", code)
	}
	items, total, err := store.List(context.Background(), ListParams{OwnerID: "patient-1", Limit: 10})
	if err != nil || total != 0 || len(items) != 0 {
		t.Errorf("nothing should be stored, got %d items (%v)", total, err)
	}
}

func TestHandler_UploadForOtherUser(t *testing.T) {
	h := NewHandler(NewInMemoryStore())
	fields := map[string]string{"owner_id": "patient-2", "category": "lab-result"}

	_, err := upload(t, h, "patient-1", []string{auth.RolePatient}, fields, "r.pdf", "application/pdf", []byte("%PDF-1.4\n"))
	if code := httpCode(t, err); code != http.StatusForbidden {
		t.Fatalf("patient uploading for another user: expected 403, got %d", code)
	}

	rec, err := upload(t, h, "staff-1", []string{auth.RoleStaff}, fields, "r.pdf", "application/pdf", []byte("%PDF-1.4\n"))
	if err != nil || rec.Code != http.StatusCreated {
		t.Fatalf("staff upload failed: %v %d", err, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"owner_id":"patient-2"`) {
		t.Errorf("owner should be patient-2: %s", rec.Body.String())
	}
}

func TestHandler_UploadMissingFile(t *testing.T) {
	h := NewHandler(NewInMemoryStore())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", strings.NewReader(""))
	req = requestAs(req, "patient-1", auth.RolePatient)
	c := echo.New().NewContext(req, httptest.NewRecorder())
	if code := httpCode(t, h.Upload(c)); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestHandler_DownloadAccess(t *testing.T) {
	store := NewInMemoryStore()
	h := NewHandler(store)
	meta := seedFile(t, store, "patient-1", "lab-result", "r.pdf", "application/pdf", "%PDF-1.4")

	get := func(userID string, roles ...string) (*httptest.ResponseRecorder, error) {
		req := requestAs(httptest.NewRequest(http.MethodGet, "/", nil), userID, roles...)
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(meta.ID)
		return rec, h.Download(c)
	}

	rec, err := get("patient-1", auth.RolePatient)
	if err != nil {
		t.Fatalf("owner download: %v", err)
	}
	if rec.Body.String() != "%PDF-1.4" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "r.pdf") {
		t.Errorf("missing filename in disposition: %s", rec.Header().Get("Content-Disposition"))
	}

	if _, err := get("staff-1", auth.RoleStaff); err != nil {
		t.Errorf("staff download: %v", err)
	}

	_, err = get("patient-2", auth.RolePatient)
	if code := httpCode(t, err); code != http.StatusNotFound {
		t.Errorf("other patient: expected 404, got %d", code)
	}
}

func TestHandler_DeleteAndMetadata(t *testing.T) {
	store := NewInMemoryStore()
	h := NewHandler(store)
	meta := seedFile(t, store, "patient-1", "other", "r.pdf", "application/pdf", "%PDF")

	ctx := func(method, userID string, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
		req := requestAs(httptest.NewRequest(method, "/", nil), userID, roles...)
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(meta.ID)
		return c, rec
	}

	c, rec := ctx(http.MethodGet, "patient-1", auth.RolePatient)
	if err := h.GetMetadata(c); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("metadata: %v %d", err, rec.Code)
	}

	c, _ = ctx(http.MethodDelete, "patient-2", auth.RolePatient)
	if code := httpCode(t, h.Delete(c)); code != http.StatusNotFound {
		t.Fatalf("foreign delete: expected 404, got %d", code)
	}

	c, rec = ctx(http.MethodDelete, "patient-1", auth.RolePatient)
	if err := h.Delete(c); err != nil || rec.Code != http.StatusNoContent {
		t.Fatalf("owner delete: %v %d", err, rec.Code)
	}

	c, _ = ctx(http.MethodGet, "patient-1", auth.RolePatient)
	if code := httpCode(t, h.GetMetadata(c)); code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", code)
	}
}

func TestHandler_List(t *testing.T) {
	store := NewInMemoryStore()
	h := NewHandler(store)
	seedFile(t, store, "patient-1", "other", "a.pdf", "application/pdf", "a")
	seedFile(t, store, "patient-2", "other", "b.pdf", "application/pdf", "b")

	list := func(query, userID string, roles ...string) (map[string]interface{}, error) {
		req := requestAs(httptest.NewRequest(http.MethodGet, "/api/v1/files"+query, nil), userID, roles...)
		rec := httptest.NewRecorder()
		err := h.List(echo.New().NewContext(req, rec))
		var body map[string]interface{}
		json.Unmarshal(rec.Body.Bytes(), &body)
		return body, err
	}

	body, err := list("", "patient-1", auth.RolePatient)
	if err != nil {
		t.Fatal(err)
	}
	if body["total"].(float64) != 1 {
		t.Errorf("patient should see only own files, got %v", body["total"])
	}

	if _, err := list("?owner=patient-2", "patient-1", auth.RolePatient); httpCode(t, err) != http.StatusForbidden {
		t.Error("patient listing another owner should be forbidden")
	}

	body, _ = list("", "staff-1", auth.RoleStaff)
	if body["total"].(float64) != 2 {
		t.Errorf("staff should see all files, got %v", body["total"])
	}
	body, _ = list("?owner=patient-2", "staff-1", auth.RoleStaff)
	if body["total"].(float64) != 1 {
		t.Errorf("staff owner filter, got %v", body["total"])
	}
}
