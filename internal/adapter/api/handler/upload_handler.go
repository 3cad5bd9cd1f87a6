package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/h2non/filetype"
	"github.com/labstack/echo/v4"

	"lovelink/internal/adapter/api/middleware"
	"lovelink/internal/domain/entity"
	"lovelink/pkg/logger"
)

const sniffLen = 261

// ImageStore keeps uploaded chat images and returns their server-relative path.
type ImageStore interface {
	PutChatImage(ctx context.Context, userID, contentType, extension string, file io.Reader) (string, error)
}

// UploadHandler is the endpoint behind uploadMessageImage. It answers with the
// {status, message, img_path} body that clients parse, never with the API envelope.
type UploadHandler struct {
	store    ImageStore
	maxBytes int64
}

func NewUploadHandler(store ImageStore, maxBytes int64) *UploadHandler {
	return &UploadHandler{
		store:    store,
		maxBytes: maxBytes,
	}
}

func uploadError(c echo.Context, status int, message string) error {
	return c.JSON(status, entity.UploadResult{Status: "error", Message: message})
}

func (h *UploadHandler) UploadChatImage(c echo.Context) error {
	uid, _ := c.Get(middleware.ContextKeyUID).(string)
	if uid == "" {
		return uploadError(c, http.StatusUnauthorized, "Authentication required")
	}

	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, h.maxBytes+1<<20)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return uploadError(c, http.StatusBadRequest, "Image file is required")
	}
	if fileHeader.Size > h.maxBytes {
		return uploadError(c, http.StatusRequestEntityTooLarge, "Image is too large")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return uploadError(c, http.StatusBadRequest, "Failed to read image")
	}
	defer file.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return uploadError(c, http.StatusBadRequest, "Failed to read image")
	}
	head = head[:n]

	if !filetype.IsImage(head) {
		return uploadError(c, http.StatusUnsupportedMediaType, "File is not a supported image")
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return uploadError(c, http.StatusUnsupportedMediaType, "File is not a supported image")
	}

	path, err := h.store.PutChatImage(c.Request().Context(), uid, kind.MIME.Value, kind.Extension, io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		logger.Error("UploadChatImage: failed to store image for user %s: %v", uid, err)
		return uploadError(c, http.StatusInternalServerError, "Failed to store image")
	}

	return c.JSON(http.StatusOK, entity.UploadResult{
		Status:  entity.UploadStatusSuccess,
		Message: "Image uploaded",
		ImgPath: path,
	})
}
