package blobstore

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"

	"github.com/wecare/clinic/internal/platform/auth"
	"github.com/wecare/clinic/pkg/pagination"
)

// Handler serves /files. Owners and staff may read a file; only staff may
// upload on behalf of someone else.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/files")
	g.POST("", h.Upload)
	g.GET("", h.List)
	g.GET("/:id/meta", h.GetMetadata)
	g.GET("/:id", h.Download)
	g.DELETE("/:id", h.Delete)
}

// ErrorStatus maps store errors to HTTP status codes.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrMissingFileName), errors.Is(err, ErrInvalidCategory):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// DetectContentType sniffs the file's leading bytes. The result must be an
// allowed type, and a declared part Content-Type must agree with it.
func DetectContentType(declared string, head []byte) (string, error) {
	detected := mimetype.Detect(head)
	ct, _, err := mime.ParseMediaType(detected.String())
	if err != nil || !AllowedContentTypes[ct] {
		return "", fmt.Errorf("%w: %s", ErrInvalidContentType, detected.String())
	}
	if declared != "" && declared != "application/octet-stream" && !detected.Is(declared) {
		return "", fmt.Errorf("%w: declared %s but content is %s", ErrInvalidContentType, declared, ct)
	}
	return ct, nil
}

func canRead(c echo.Context, meta *Metadata) bool {
	ctx := c.Request().Context()
	return auth.IsStaff(ctx) || meta.OwnerID == auth.UserIDFromContext(ctx)
}

func (h *Handler) Upload(c echo.Context) error {
	ctx := c.Request().Context()
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if file.Size > MaxFileSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, ErrFileTooLarge.Error())
	}

	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	head := make([]byte, 512)
	n, _ := src.Read(head)
	if _, err := src.Seek(0, 0); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read uploaded file")
	}

	contentType, err := DetectContentType(file.Header.Get("Content-Type"), head[:n])
	if err != nil {
		return echo.NewHTTPError(ErrorStatus(err), err.Error())
	}

	caller := auth.UserIDFromContext(ctx)
	owner := caller
	if o := c.FormValue("owner_id"); o != "" && o != caller {
		if !auth.IsStaff(ctx) {
			return echo.NewHTTPError(http.StatusForbidden, "cannot upload files for another user")
		}
		owner = o
	}

	meta := Metadata{
		FileName:    filepath.Base(file.Filename),
		ContentType: contentType,
		OwnerID:     owner,
		Category:    c.FormValue("category"),
		CreatedBy:   caller,
	}
	result, err := h.store.Upload(ctx, meta, src)
	if err != nil {
		return echo.NewHTTPError(ErrorStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) Download(c echo.Context) error {
	rc, meta, err := h.store.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(ErrorStatus(err), err.Error())
	}
	defer rc.Close()
	if !canRead(c, meta) {
		return echo.NewHTTPError(http.StatusNotFound, ErrBlobNotFound.Error())
	}

	disposition := "attachment"
	if c.QueryParam("inline") == "true" {
		disposition = "inline"
	}
	c.Response().Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": meta.FileName}))
	c.Response().Header().Set("Content-Length", fmt.Sprint(meta.Size))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *Handler) GetMetadata(c echo.Context) error {
	meta, err := h.store.GetMetadata(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(ErrorStatus(err), err.Error())
	}
	if !canRead(c, meta) {
		return echo.NewHTTPError(http.StatusNotFound, ErrBlobNotFound.Error())
	}
	return c.JSON(http.StatusOK, meta)
}

// Delete is allowed for the owner and for staff.
func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	meta, err := h.store.GetMetadata(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(ErrorStatus(err), err.Error())
	}
	if !canRead(c, meta) {
		return echo.NewHTTPError(http.StatusNotFound, ErrBlobNotFound.Error())
	}
	if err := h.store.Delete(ctx, meta.ID); err != nil {
		return echo.NewHTTPError(ErrorStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// List returns the caller's files; staff may pass ?owner= or omit it to
// see everything.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	owner := c.QueryParam("owner")
	if !auth.IsStaff(ctx) {
		self := auth.UserIDFromContext(ctx)
		if owner != "" && owner != self {
			return echo.NewHTTPError(http.StatusForbidden, "cannot list another user's files")
		}
		owner = self
	}

	items, total, err := h.store.List(ctx, ListParams{
		OwnerID:  owner,
		Category: c.QueryParam("category"),
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Metadata{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
