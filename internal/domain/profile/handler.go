package profile

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/wecare/clinic/internal/platform/auth"
	"github.com/wecare/clinic/internal/platform/blobstore"
	"github.com/wecare/clinic/pkg/pagination"
	"github.com/wecare/clinic/pkg/validation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/profiles/me", h.GetMe)
	api.PUT("/profiles/me", h.UpdateMe)
	api.POST("/profiles/me/avatar", h.UploadAvatar)

	staff := api.Group("/profiles", auth.RequireStaff())
	staff.GET("", h.List)
	staff.GET("/:id", h.Get)

	api.PUT("/profiles/:id/role", h.SetRole, auth.RequireRole(auth.RoleAdmin))
}

func caller(c echo.Context) (uuid.UUID, error) {
	id, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func errorStatus(err error) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "profile not found")
	}
	return validation.HTTPError(err)
}

func (h *Handler) GetMe(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.svc.Me(ctx, id, auth.EmailFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if _, err := h.svc.Me(ctx, id, auth.EmailFromContext(ctx)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	p, err := h.svc.UpdateMe(ctx, id, req)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UploadAvatar(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if file.Size > blobstore.MaxFileSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, blobstore.ErrFileTooLarge.Error())
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
	contentType, err := blobstore.DetectContentType(file.Header.Get("Content-Type"), head[:n])
	if err != nil {
		return echo.NewHTTPError(blobstore.ErrorStatus(err), err.Error())
	}

	ctx := c.Request().Context()
	if _, err := h.svc.Me(ctx, id, auth.EmailFromContext(ctx)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	p, err := h.svc.UploadAvatar(ctx, id, filepath.Base(file.Filename), contentType, src)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "profile not found")
		}
		return echo.NewHTTPError(blobstore.ErrorStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Role: c.QueryParam("role"), Query: c.QueryParam("q")}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return validation.HTTPError(err)
	}
	if items == nil {
		items = []*Profile{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, p)
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) SetRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.SetRole(c.Request().Context(), id, req.Role)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, p)
}
