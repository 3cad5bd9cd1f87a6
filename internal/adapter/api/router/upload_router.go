package router

import (
	"log"

	"github.com/labstack/echo/v4"

	"lovelink/internal/adapter/api/handler"
	"lovelink/internal/adapter/api/middleware"
	"lovelink/internal/infrastructure/ratelimit"
)

func SetupUploadRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	uploadHandler := handler.GetUploadHandler()
	if uploadHandler == nil {
		log.Printf("No image store configured, /v1/uploads/chat-image is disabled")
		return
	}

	uploadGroup := e.Group("/v1/uploads")
	uploadGroup.Use(authMiddleware.Authenticate)

	uploadGroup.POST("/chat-image", uploadHandler.UploadChatImage, middleware.RateLimit(limiter, ratelimit.ActionUploadImage))
}
