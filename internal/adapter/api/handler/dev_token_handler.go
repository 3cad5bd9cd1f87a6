package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"lovelink/internal/infrastructure/firebase"
	"lovelink/internal/usecase"
	"lovelink/pkg/errors"
	"lovelink/pkg/response"
)

// DevTokenHandler mints development tokens for the memory store driver, where there is
// no Firebase project to sign in against.
type DevTokenHandler struct {
	presenceUseCase *usecase.PresenceUseCase
}

func NewDevTokenHandler(presenceUseCase *usecase.PresenceUseCase) *DevTokenHandler {
	return &DevTokenHandler{
		presenceUseCase: presenceUseCase,
	}
}

type devTokenResponse struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
}

// GenerateUserToken returns a token for :uid and makes sure the user has a presence record.
func (h *DevTokenHandler) GenerateUserToken(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("uid"), 10, 64)
	if err != nil {
		return response.Error(c, errors.BadRequest("Invalid user id", err))
	}

	if err := h.presenceUseCase.EnsureRecord(c.Request().Context(), userID, nil); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, devTokenResponse{
		UserID: userID,
		Token:  firebase.DevToken(usecase.UserKey(userID)),
	})
}
