package router

import (
	"github.com/labstack/echo/v4"

	"lovelink/internal/adapter/api/handler"
	"lovelink/internal/adapter/api/middleware"
)

func SetupWebSocketRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	wsHandler := handler.GetWebSocketHandler()
	e.GET("/ws", wsHandler.HandleWebSocket, authMiddleware.AuthenticateWebSocket)
}
