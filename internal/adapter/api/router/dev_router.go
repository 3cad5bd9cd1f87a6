package router

import (
	"lovelink/internal/adapter/api/handler"

	"github.com/labstack/echo/v4"
)

// SetupDevRouter exposes token minting only in development with the memory store.
func SetupDevRouter(e *echo.Echo, environment, storeDriver string) {
	if environment != "development" || storeDriver != "memory" {
		return
	}
	devTokenHandler := handler.GetDevTokenHandler()

	e.GET("/_dev/token/:uid", devTokenHandler.GenerateUserToken)
}
