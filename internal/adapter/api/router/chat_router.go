package router

import (
	"github.com/labstack/echo/v4"

	"lovelink/internal/adapter/api/handler"
	"lovelink/internal/adapter/api/middleware"
	"lovelink/internal/infrastructure/ratelimit"
)

func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	chatHandler := handler.GetChatHandler()

	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.POST("", chatHandler.CreateChat, middleware.RateLimit(limiter, ratelimit.ActionCreateChat))
	chatGroup.PUT("/:id/read", chatHandler.MarkChatAsRead)
	chatGroup.PUT("/:id/block", chatHandler.BlockChat)
	chatGroup.DELETE("/:id/block", chatHandler.UnblockChat)
	chatGroup.GET("/:id/messages", chatHandler.GetChatMessages)
	chatGroup.POST("/:id/resummarize", chatHandler.ResummarizeChat)

	// Messages are addressed to a user; the chat id is derived from the pair.
	e.POST("/v1/messages", chatHandler.SendMessage,
		authMiddleware.Authenticate,
		middleware.RateLimit(limiter, ratelimit.ActionSendMessage),
	)
}
