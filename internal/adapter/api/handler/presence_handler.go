package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	ws "lovelink/internal/infrastructure/websocket"
	"lovelink/internal/usecase"
	"lovelink/pkg/errors"
	"lovelink/pkg/logger"
	"lovelink/pkg/response"
)

type PresenceHandler struct {
	presenceUseCase *usecase.PresenceUseCase
	stoppers        *usecase.StopperRegistry
	wsManager       *ws.Manager
}

func NewPresenceHandler(presenceUseCase *usecase.PresenceUseCase, stoppers *usecase.StopperRegistry, wsManager *ws.Manager) *PresenceHandler {
	return &PresenceHandler{
		presenceUseCase: presenceUseCase,
		stoppers:        stoppers,
		wsManager:       wsManager,
	}
}

type stopPresenceResponse struct {
	Stopped bool `json:"stopped"`
}

func (h *PresenceHandler) GetPresence(c echo.Context) error {
	if _, err := currentUser(c); err != nil {
		return response.Error(c, err)
	}

	userID, err := strconv.ParseInt(c.Param("uid"), 10, 64)
	if err != nil {
		return response.Error(c, errors.BadRequest("Invalid user id", err))
	}

	presence, err := h.presenceUseCase.GetPresence(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, presence)
}

// StopPresence ends the caller's presence tracking, as on logout, and tells their open
// connections that they no longer publish presence.
func (h *PresenceHandler) StopPresence(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	stopped := h.stoppers.StopPresenceIfAny(userID)
	if stopped {
		frame, err := ws.EncodeFrame(ws.MessageTypePresenceStopped, "", nil)
		if err == nil {
			h.wsManager.SendToUser(usecase.UserKey(userID), frame)
		}
	}
	logger.Info("Presence stop for user %d (was tracking: %v)", userID, stopped)

	return response.Success(c, stopPresenceResponse{Stopped: stopped})
}
