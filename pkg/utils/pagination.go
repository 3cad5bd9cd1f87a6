package utils

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"lovelink/internal/domain/entity"
)

// CursorParams represents cursor pagination parameters for message history.
type CursorParams struct {
	Cursor   *entity.Cursor
	PageSize int
}

// GetCursorParams extracts before_id/before_at/limit from the request. Without either
// cursor parameter the Cursor is nil, meaning the newest page. A cursor with only one
// half present, or a before_at that is not RFC3339, is an error.
func GetCursorParams(c echo.Context, defaultSize, maxSize int) (CursorParams, error) {
	pageSize, _ := strconv.Atoi(c.QueryParam("limit"))
	pageSize = ClampPageSize(pageSize, defaultSize, maxSize)

	params := CursorParams{PageSize: pageSize}

	beforeID := c.QueryParam("before_id")
	beforeAt := c.QueryParam("before_at")
	if beforeID == "" && beforeAt == "" {
		return params, nil
	}
	if beforeID == "" || beforeAt == "" {
		return params, fmt.Errorf("before_id and before_at must be given together")
	}

	at, err := time.Parse(time.RFC3339Nano, beforeAt)
	if err != nil {
		return params, fmt.Errorf("before_at: %w", err)
	}

	params.Cursor = &entity.Cursor{ID: beforeID, CreatedAt: at}
	return params, nil
}

// ClampPageSize applies the default to non-positive sizes and caps oversize requests.
func ClampPageSize(pageSize, defaultSize, maxSize int) int {
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if maxSize > 0 && pageSize > maxSize {
		pageSize = maxSize
	}
	return pageSize
}
