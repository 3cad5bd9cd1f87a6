package router

import (
	"lovelink/internal/adapter/api/middleware"
	"lovelink/internal/infrastructure/ratelimit"

	"github.com/labstack/echo/v4"
)

// Setup registers every route. handler.Setup must have run first.
func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	SetupHealthRouter(e)
	SetupChatRouter(e, authMiddleware, limiter)
	SetupPresenceRouter(e, authMiddleware)
	SetupUploadRouter(e, authMiddleware, limiter)
	SetupWebSocketRouter(e, authMiddleware)
}
