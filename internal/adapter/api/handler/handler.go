package handler

import (
	"context"

	ws "lovelink/internal/infrastructure/websocket"
	"lovelink/internal/usecase"
)

// Deps carries what the handlers need. ImageStore may be nil, which disables uploads.
type Deps struct {
	BaseCtx         context.Context
	StoreDriver     string
	ChatUseCase     *usecase.ChatUseCase
	PresenceUseCase *usecase.PresenceUseCase
	Stoppers        *usecase.StopperRegistry
	WSManager       *ws.Manager
	ImageStore      ImageStore
	DefaultPageSize int
	MaxPageSize     int
	UploadMaxBytes  int64
}

var (
	healthHandler    *HealthHandler
	chatHandler      *ChatHandler
	presenceHandler  *PresenceHandler
	uploadHandler    *UploadHandler
	websocketHandler *WebSocketHandler
	devTokenHandler  *DevTokenHandler
)

func Setup(d Deps) {
	healthHandler = NewHealthHandler(d.StoreDriver)
	chatHandler = NewChatHandler(d.ChatUseCase, d.DefaultPageSize, d.MaxPageSize)
	presenceHandler = NewPresenceHandler(d.PresenceUseCase, d.Stoppers, d.WSManager)
	websocketHandler = NewWebSocketHandler(d.BaseCtx, d.WSManager, d.ChatUseCase, d.PresenceUseCase, d.Stoppers)
	devTokenHandler = NewDevTokenHandler(d.PresenceUseCase)
	uploadHandler = nil
	if d.ImageStore != nil {
		uploadHandler = NewUploadHandler(d.ImageStore, d.UploadMaxBytes)
	}
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetPresenceHandler() *PresenceHandler {
	return presenceHandler
}

// GetUploadHandler is nil when no image store is configured.
func GetUploadHandler() *UploadHandler {
	return uploadHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return websocketHandler
}

func GetDevTokenHandler() *DevTokenHandler {
	return devTokenHandler
}
