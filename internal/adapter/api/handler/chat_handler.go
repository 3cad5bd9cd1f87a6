package handler

import (
	"github.com/labstack/echo/v4"

	"lovelink/internal/adapter/api/middleware"
	"lovelink/internal/usecase"
	"lovelink/pkg/errors"
	"lovelink/pkg/response"
	"lovelink/pkg/utils"
)

type ChatHandler struct {
	chatUseCase     *usecase.ChatUseCase
	defaultPageSize int
	maxPageSize     int
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase, defaultPageSize, maxPageSize int) *ChatHandler {
	return &ChatHandler{
		chatUseCase:     chatUseCase,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

type createChatRequest struct {
	PeerID      int64  `json:"peer_id" validate:"required"`
	SeedMessage string `json:"seed_message" validate:"max=4000"`
}

type sendMessageRequest struct {
	RecipientID int64  `json:"recipient_id" validate:"required"`
	Text        string `json:"text" validate:"required,max=4000"`
}

type chatResponse struct {
	ChatID string `json:"chat_id"`
}

func currentUser(c echo.Context) (int64, error) {
	userID, ok := middleware.UserID(c)
	if !ok {
		return 0, errors.Unauthorized("Authentication required", nil)
	}
	return userID, nil
}

// chatMember returns the caller and the :id chat, which must include the caller.
func chatMember(c echo.Context) (int64, string, error) {
	userID, err := currentUser(c)
	if err != nil {
		return 0, "", err
	}

	chatID := c.Param("id")
	if _, _, err := usecase.ParseChatID(chatID); err != nil {
		return 0, "", err
	}
	if !usecase.ChatHasMember(chatID, userID) {
		return 0, "", errors.Forbidden("You are not a member of this chat", nil)
	}
	return userID, chatID, nil
}

// CreateChat returns the 1:1 chat with peer_id, creating it on first use.
func (h *ChatHandler) CreateChat(c echo.Context) error {
	var req createChatRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	chatID, err := h.chatUseCase.GetOrCreate1to1(c.Request().Context(), userID, req.PeerID, req.SeedMessage)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, chatResponse{ChatID: chatID})
}

// SendMessage answers 200 with a receipt, dropped=true when the chat is blocked, or 202
// PARTIAL_SEND when the message was stored without its summary.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	receipt, err := h.chatUseCase.SendMessage(c.Request().Context(), userID, req.RecipientID, req.Text)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, receipt)
}

func (h *ChatHandler) MarkChatAsRead(c echo.Context) error {
	userID, chatID, err := chatMember(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.chatUseCase.MarkConversationRead(c.Request().Context(), chatID, userID); err != nil {
		return response.Error(c, err)
	}

	return response.NoContent(c)
}

func (h *ChatHandler) BlockChat(c echo.Context) error {
	_, chatID, err := chatMember(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.chatUseCase.BlockChat(c.Request().Context(), chatID); err != nil {
		return response.Error(c, err)
	}

	return response.NoContent(c)
}

func (h *ChatHandler) UnblockChat(c echo.Context) error {
	_, chatID, err := chatMember(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.chatUseCase.UnblockChat(c.Request().Context(), chatID); err != nil {
		return response.Error(c, err)
	}

	return response.NoContent(c)
}

// GetChatMessages returns the newest page, or the page before before_id/before_at.
func (h *ChatHandler) GetChatMessages(c echo.Context) error {
	_, chatID, err := chatMember(c)
	if err != nil {
		return response.Error(c, err)
	}

	params, err := utils.GetCursorParams(c, h.defaultPageSize, h.maxPageSize)
	if err != nil {
		return response.Error(c, errors.BadRequest("Invalid cursor", err))
	}
	ctx := c.Request().Context()

	if params.Cursor == nil {
		page, err := h.chatUseCase.LatestPage(ctx, chatID, params.PageSize)
		if err != nil {
			return response.Error(c, err)
		}
		return response.Success(c, page)
	}

	page, err := h.chatUseCase.FetchOlder(ctx, chatID, params.Cursor, params.PageSize)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, page)
}

// ResummarizeChat repairs the summary after a PARTIAL_SEND.
func (h *ChatHandler) ResummarizeChat(c echo.Context) error {
	_, chatID, err := chatMember(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.chatUseCase.ResummarizeConversation(c.Request().Context(), chatID); err != nil {
		return response.Error(c, err)
	}

	return response.NoContent(c)
}
