package usecase

import (
	"context"
	"strings"

	"lovelink/internal/domain/entity"
	"lovelink/internal/domain/repository"
	"lovelink/pkg/errors"
	"lovelink/pkg/logger"
	"lovelink/pkg/utils"
)

// ChatUseCase owns 1:1 conversations: idempotent setup, message append, paginated and
// live reads, read receipts and the block flag. Conversations are shared by both
// participants without locking, so every write names the fields it changes and nothing
// else.
type ChatUseCase struct {
	chatRepo        repository.ConversationRepository
	defaultPageSize int
	maxPageSize     int
}

func NewChatUseCase(chatRepo repository.ConversationRepository, defaultPageSize, maxPageSize int) *ChatUseCase {
	return &ChatUseCase{
		chatRepo:        chatRepo,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// SendReceipt describes the outcome of SendMessage. Dropped is set when the
// conversation was blocked at the time of the pre-send check.
type SendReceipt struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id,omitempty"`
	Dropped   bool   `json:"dropped"`
}

// GetOrCreate1to1 returns the chat id of the pair, creating the conversation on first
// use. The id is returned even when the store round trip fails.
func (uc *ChatUseCase) GetOrCreate1to1(ctx context.Context, me, peer int64, seedMessage string) (string, error) {
	chatID := ChatIDFor(me, peer)
	if me == peer {
		return chatID, errors.BadRequest("You cannot create a chat with yourself", nil)
	}

	conv, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil && !errors.Is(err, "NOT_FOUND") {
		logger.Error("GetOrCreate1to1: failed to read chat %s: %v", chatID, err)
		return chatID, err
	}

	if conv == nil {
		err := uc.chatRepo.CreateIfAbsent(ctx, chatID, newConversationFields(me, peer, seedMessage))
		if err != nil && !errors.Is(err, "CONFLICT") {
			logger.Error("GetOrCreate1to1: failed to create chat %s: %v", chatID, err)
			return chatID, err
		}
		return chatID, nil
	}

	if !conv.HasBlockFlag() {
		if err := uc.chatRepo.Merge(ctx, chatID, repository.Fields{"isBlocked": false}); err != nil {
			logger.Swallowed("block flag backfill", chatID, err)
		}
	}

	return chatID, nil
}

func newConversationFields(me, peer int64, seedMessage string) repository.Fields {
	meKey, peerKey := UserKey(me), UserKey(peer)
	hasSeed := strings.TrimSpace(seedMessage) != ""

	lastMessage := ""
	if hasSeed {
		lastMessage = seedMessage
	}

	fields := repository.Fields{
		"members":     memberPair(me, peer),
		"lastMessage": lastMessage,
		"lastAt":      repository.ServerTimestamp,
		"createdAt":   repository.ServerTimestamp,
		"lastReads":   map[string]interface{}{},
		"unreadFor": map[string]interface{}{
			meKey:   false,
			peerKey: hasSeed,
		},
		"isBlocked": false,
	}
	if hasSeed {
		fields["lastSenderId"] = meKey
	}
	return fields
}

// SendMessage appends a message and then updates the conversation summary. The two
// writes are not atomic: a failure of the second returns a PARTIAL_SEND error that names
// the stored message, and ResummarizeConversation repairs the summary without appending
// again.
//
// The block check is advisory. A block that lands between the check and the append does
// not stop the message, and a failed check lets the send through.
func (uc *ChatUseCase) SendMessage(ctx context.Context, fromID, toID int64, text string) (*SendReceipt, error) {
	if fromID == toID {
		return nil, errors.BadRequest("You cannot send a message to yourself", nil)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.BadRequest("Message text is required", nil)
	}

	chatID := ChatIDFor(fromID, toID)
	receipt := &SendReceipt{ChatID: chatID}

	blocked, err := uc.isBlocked(ctx, chatID)
	if err != nil {
		logger.Swallowed("block check", chatID, err)
	} else if blocked {
		logger.Info("SendMessage: chat %s is blocked, dropping message from %d", chatID, fromID)
		receipt.Dropped = true
		return receipt, nil
	}

	messageID, err := uc.appendMessage(ctx, chatID, fromID, text)
	if err != nil {
		logger.Error("SendMessage: failed to append message to chat %s: %v", chatID, err)
		return nil, err
	}
	receipt.MessageID = messageID

	if err := uc.chatRepo.Merge(ctx, chatID, summaryFields(fromID, toID, text, repository.ServerTimestamp, true)); err != nil {
		logger.Error("SendMessage: message %s stored in chat %s without summary: %v", messageID, chatID, err)
		return receipt, errors.PartialSend(messageID, err)
	}

	return receipt, nil
}

func (uc *ChatUseCase) isBlocked(ctx context.Context, chatID string) (bool, error) {
	conv, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, "NOT_FOUND") {
			return false, nil
		}
		return false, err
	}
	return conv.Blocked(), nil
}

func (uc *ChatUseCase) appendMessage(ctx context.Context, chatID string, senderID int64, text string) (string, error) {
	return uc.chatRepo.AppendMessage(ctx, chatID, repository.Fields{
		"text":      text,
		"senderId":  UserKey(senderID),
		"createdAt": repository.ServerTimestamp,
	})
}

func summaryFields(senderID, recipientID int64, text string, lastAt interface{}, recipientUnread bool) repository.Fields {
	senderKey, recipientKey := UserKey(senderID), UserKey(recipientID)
	return repository.Fields{
		"members":      memberPair(senderID, recipientID),
		"lastMessage":  text,
		"lastAt":       lastAt,
		"lastSenderId": senderKey,
		"unreadFor": map[string]interface{}{
			senderKey:    false,
			recipientKey: recipientUnread,
		},
	}
}

// ResummarizeConversation rebuilds the summary fields from the newest stored message.
// It never appends, so it is safe to repeat after a PARTIAL_SEND.
func (uc *ChatUseCase) ResummarizeConversation(ctx context.Context, chatID string) error {
	a, b, err := ParseChatID(chatID)
	if err != nil {
		return err
	}

	latest, err := uc.chatRepo.LatestMessages(ctx, chatID, 1)
	if err != nil {
		return err
	}
	if len(latest) == 0 {
		return nil
	}
	message := latest[0]

	senderID, recipientID := a, b
	if message.SenderID == UserKey(b) {
		senderID, recipientID = b, a
	}

	recipientUnread := true
	conv, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil && !errors.Is(err, "NOT_FOUND") {
		return err
	}
	if conv != nil {
		if readAt, ok := conv.LastReads[UserKey(recipientID)]; ok && !readAt.Before(message.CreatedAt) {
			recipientUnread = false
		}
	}

	return uc.chatRepo.Merge(ctx, chatID, summaryFields(senderID, recipientID, message.Text, message.CreatedAt, recipientUnread))
}

// MarkConversationRead stamps the user's read receipt and clears only their unread flag.
func (uc *ChatUseCase) MarkConversationRead(ctx context.Context, chatID string, userID int64) error {
	if _, _, err := ParseChatID(chatID); err != nil {
		return err
	}

	key := UserKey(userID)
	return uc.chatRepo.Merge(ctx, chatID, repository.Fields{
		"lastReads": map[string]interface{}{key: repository.ServerTimestamp},
		"unreadFor": map[string]interface{}{key: false},
	})
}

func (uc *ChatUseCase) BlockChat(ctx context.Context, chatID string) error {
	return uc.SetBlocked(ctx, chatID, true)
}

func (uc *ChatUseCase) UnblockChat(ctx context.Context, chatID string) error {
	return uc.SetBlocked(ctx, chatID, false)
}

// SetBlocked writes the conversation-wide block flag and nothing else.
func (uc *ChatUseCase) SetBlocked(ctx context.Context, chatID string, blocked bool) error {
	if _, _, err := ParseChatID(chatID); err != nil {
		return err
	}
	return uc.chatRepo.Merge(ctx, chatID, repository.Fields{"isBlocked": blocked})
}

// ListenConversationMeta delivers the conversation document on every change, nil while
// it does not exist.
func (uc *ChatUseCase) ListenConversationMeta(ctx context.Context, chatID string, onChange func(*entity.Conversation)) repository.Unsubscribe {
	return uc.chatRepo.Watch(ctx, chatID, onChange)
}

// ListenConversations delivers the user's inbox ordered by latest activity.
func (uc *ChatUseCase) ListenConversations(ctx context.Context, userID int64, limit int, onChange func([]*entity.Conversation)) repository.Unsubscribe {
	limit = utils.ClampPageSize(limit, uc.defaultPageSize, uc.maxPageSize)
	return uc.chatRepo.WatchByMember(ctx, UserKey(userID), limit, onChange)
}

// ListenLatest keeps the newest page of a conversation live. Each call of onLoad carries
// the page newest first and a cursor at its oldest message for FetchOlder.
func (uc *ChatUseCase) ListenLatest(ctx context.Context, chatID string, pageSize int, onLoad func([]*entity.Message, *entity.Cursor)) repository.Unsubscribe {
	pageSize = utils.ClampPageSize(pageSize, uc.defaultPageSize, uc.maxPageSize)
	return uc.chatRepo.WatchLatestMessages(ctx, chatID, pageSize, func(messages []*entity.Message) {
		page := entity.NewMessagePage(messages)
		onLoad(page.Items, page.Cursor)
	})
}

// LatestPage reads the newest page once, for clients that do not hold a live listener.
func (uc *ChatUseCase) LatestPage(ctx context.Context, chatID string, pageSize int) (*entity.MessagePage, error) {
	pageSize = utils.ClampPageSize(pageSize, uc.defaultPageSize, uc.maxPageSize)
	messages, err := uc.chatRepo.LatestMessages(ctx, chatID, pageSize)
	if err != nil {
		logger.Error("LatestPage: failed to read chat %s: %v", chatID, err)
		return nil, err
	}

	return entity.NewMessagePage(messages), nil
}

// FetchOlder reads the page strictly older than cursor. A nil cursor, or nothing older,
// yields an empty page with a nil cursor.
func (uc *ChatUseCase) FetchOlder(ctx context.Context, chatID string, cursor *entity.Cursor, pageSize int) (*entity.MessagePage, error) {
	if cursor == nil {
		return entity.NewMessagePage(nil), nil
	}

	pageSize = utils.ClampPageSize(pageSize, uc.defaultPageSize, uc.maxPageSize)
	messages, err := uc.chatRepo.MessagesBefore(ctx, chatID, *cursor, pageSize)
	if err != nil {
		logger.Error("FetchOlder: failed to read chat %s before %s: %v", chatID, cursor.ID, err)
		return nil, err
	}

	return entity.NewMessagePage(messages), nil
}
