package repository

import (
	"context"

	"lovelink/internal/domain/entity"
)

// PresenceRepository stores one status document per user under presence/{userId}.
type PresenceRepository interface {
	GetByUserID(ctx context.Context, userID string) (*entity.Presence, error)
	CreateIfAbsent(ctx context.Context, userID string, fields Fields) error
	Merge(ctx context.Context, userID string, fields Fields) error
	// WatchUsers observes at most one id-in-set query width of users. Users without a
	// record are absent from the delivered slice.
	WatchUsers(ctx context.Context, userIDs []string, fn func([]*entity.Presence)) Unsubscribe
}
