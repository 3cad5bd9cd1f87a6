package router

import (
	"github.com/labstack/echo/v4"

	"lovelink/internal/adapter/api/handler"
	"lovelink/internal/adapter/api/middleware"
)

func SetupPresenceRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	presenceHandler := handler.GetPresenceHandler()

	presenceGroup := e.Group("/v1/presence")
	presenceGroup.Use(authMiddleware.Authenticate)

	presenceGroup.POST("/stop", presenceHandler.StopPresence)
	presenceGroup.GET("/:uid", presenceHandler.GetPresence)
}
