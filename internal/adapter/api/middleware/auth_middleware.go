package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"lovelink/pkg/errors"
	"lovelink/pkg/response"
)

const (
	ContextKeyUID    = "uid"
	ContextKeyUserID = "user_id"
)

// TokenVerifier turns a bearer token into a uid.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate requires "Authorization: Bearer <token>". The token's uid must be a
// decimal user id; it is stored under "uid" and, parsed, under "user_id".
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return response.Error(c, errors.Unauthorized("Authorization header is required", nil))
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return response.Error(c, errors.Unauthorized("Invalid authorization format", nil))
		}

		if err := m.authenticate(c, parts[1]); err != nil {
			return response.Error(c, err)
		}
		return next(c)
	}
}

// AuthenticateWebSocket also accepts the token as the "token" query parameter, since
// browsers cannot set headers on a websocket handshake.
func (m *AuthMiddleware) AuthenticateWebSocket(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		if token == "" {
			return m.Authenticate(next)(c)
		}
		if err := m.authenticate(c, token); err != nil {
			return response.Error(c, err)
		}
		return next(c)
	}
}

func (m *AuthMiddleware) authenticate(c echo.Context, token string) error {
	uid, err := m.verifier.VerifyToken(c.Request().Context(), token)
	if err != nil {
		return errors.Unauthorized("Invalid or expired token", err)
	}

	userID, err := strconv.ParseInt(uid, 10, 64)
	if err != nil {
		return errors.Unauthorized("Token subject is not a user id", err)
	}

	c.Set(ContextKeyUID, uid)
	c.Set(ContextKeyUserID, userID)
	return nil
}

// UserID returns the authenticated user id set by Authenticate.
func UserID(c echo.Context) (int64, bool) {
	id, ok := c.Get(ContextKeyUserID).(int64)
	return id, ok
}
