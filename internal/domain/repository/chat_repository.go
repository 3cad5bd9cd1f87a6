package repository

import (
	"context"

	"lovelink/internal/domain/entity"
)

// ConversationRepository stores conversations under chats/{chatId} and their messages
// under chats/{chatId}/messages. Every mutation of a conversation is a partial merge.
type ConversationRepository interface {
	GetByID(ctx context.Context, chatID string) (*entity.Conversation, error)
	// CreateIfAbsent fails with a CONFLICT error when the document already exists.
	CreateIfAbsent(ctx context.Context, chatID string, fields Fields) error
	Merge(ctx context.Context, chatID string, fields Fields) error
	// Watch delivers the conversation on every change, or nil while it does not exist.
	Watch(ctx context.Context, chatID string, fn func(*entity.Conversation)) Unsubscribe
	// WatchByMember delivers the member's conversations, most recent activity first.
	WatchByMember(ctx context.Context, userID string, limit int, fn func([]*entity.Conversation)) Unsubscribe

	AppendMessage(ctx context.Context, chatID string, fields Fields) (string, error)
	LatestMessages(ctx context.Context, chatID string, limit int) ([]*entity.Message, error)
	MessagesBefore(ctx context.Context, chatID string, cursor entity.Cursor, limit int) ([]*entity.Message, error)
	WatchLatestMessages(ctx context.Context, chatID string, limit int, fn func([]*entity.Message)) Unsubscribe
}
