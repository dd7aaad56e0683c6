package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	UserEmailKey contextKey = "user_email"
)

const (
	RolePatient = "patient"
	RoleStaff   = "staff"
	RoleAdmin   = "admin"
)

// DevUserID is the identity assumed by DevAuthMiddleware for anonymous requests.
const DevUserID = "00000000-0000-0000-0000-000000000001"

// Claims mirrors the access tokens issued by the identity provider. The
// clinic role lives in app_metadata; "role" is the provider's own audience
// role ("authenticated") and is ignored.
type Claims struct {
	jwt.RegisteredClaims
	Email       string      `json:"email,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	Roles       []string    `json:"roles,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata,omitempty"`
}

type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

// ClinicRoles returns the clinic roles carried by the token, defaulting to
// patient.
func (c *Claims) ClinicRoles() []string {
	if len(c.Roles) > 0 {
		return c.Roles
	}
	if c.AppMetadata.Role != "" {
		return []string{c.AppMetadata.Role}
	}
	return []string{RolePatient}
}

// RoleResolver looks up the authoritative role for a user (profiles.role).
// An empty role with a nil error means "no profile yet".
type RoleResolver interface {
	RoleOf(ctx context.Context, userID string) (string, error)
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey verifies HS256 tokens (the provider's shared JWT secret).
	SigningKey []byte
	// Roles, when set, overrides token roles with the stored profile role.
	Roles RoleResolver
	// Skipper bypasses authentication for matching requests.
	Skipper func(c echo.Context) bool
}

// tokenFromRequest reads the bearer token from the Authorization header, or
// from the access_token query parameter for WebSocket upgrades where browsers
// cannot set headers.
func tokenFromRequest(c echo.Context) (string, error) {
	if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if tok := c.QueryParam("access_token"); tok != "" {
		return tok, nil
	}
	return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	jwksURL := cfg.JWKSURL
	if jwksURL == "" && cfg.Issuer != "" {
		jwksURL = strings.TrimRight(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}

	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return cfg.SigningKey, nil
		}
	} else {
		keyFunc = jwksKeyFunc(NewJWKSCache(jwksURL, defaultJWKSCacheTTL))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, err := tokenFromRequest(c)
			if err != nil {
				return err
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if _, err := uuid.Parse(claims.Subject); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}

			roles := claims.ClinicRoles()
			if cfg.Roles != nil {
				role, err := cfg.Roles.RoleOf(c.Request().Context(), claims.Subject)
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "role lookup failed")
				}
				if role != "" {
					roles = []string{role}
				}
			}

			c.SetRequest(c.Request().WithContext(
				WithIdentity(c.Request().Context(), claims.Subject, claims.Email, roles),
			))
			return next(c)
		}
	}
}

// DevAuthMiddleware treats anonymous requests as the admin DevUserID. A
// request carrying a token is passed to verify, so developers can still act
// as a specific user.
func DevAuthMiddleware(verify echo.MiddlewareFunc, skipper func(c echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := next
		if verify != nil {
			verified = verify(next)
		}
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}
			if c.Request().Header.Get("Authorization") != "" || c.QueryParam("access_token") != "" {
				return verified(c)
			}
			c.SetRequest(c.Request().WithContext(
				WithIdentity(c.Request().Context(), DevUserID, "dev@localhost", []string{RoleAdmin}),
			))
			return next(c)
		}
	}
}

// WithIdentity stores the authenticated user on ctx.
func WithIdentity(ctx context.Context, userID, email string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserEmailKey, email)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	return ctx
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// UserUUIDFromContext parses the authenticated subject as a UUID.
func UserUUIDFromContext(ctx context.Context) (uuid.UUID, error) {
	return uuid.Parse(UserIDFromContext(ctx))
}

func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(UserEmailKey).(string)
	return email
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// HasRole reports whether ctx carries role. Admin implies every role.
func HasRole(ctx context.Context, role string) bool {
	for _, r := range RolesFromContext(ctx) {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

// IsStaff is true for staff and admin users.
func IsStaff(ctx context.Context) bool {
	return HasRole(ctx, RoleStaff)
}
