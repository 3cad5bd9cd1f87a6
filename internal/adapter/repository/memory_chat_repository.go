package repository

import (
	"context"
	stderrors "errors"
	"log"

	"lovelink/internal/domain/entity"
	"lovelink/internal/domain/repository"
	"lovelink/internal/infrastructure/memstore"
	"lovelink/pkg/errors"
)

type memoryConversationRepository struct {
	store *memstore.Store
}

func NewMemoryConversationRepository(store *memstore.Store) repository.ConversationRepository {
	return &memoryConversationRepository{
		store: store,
	}
}

func chatPath(chatID string) string {
	return chatsCollection + "/" + chatID
}

func messagesPath(chatID string) string {
	return chatPath(chatID) + "/" + messagesCollection
}

func (r *memoryConversationRepository) GetByID(ctx context.Context, chatID string) (*entity.Conversation, error) {
	doc, err := r.store.Get(chatPath(chatID))
	if err != nil {
		if stderrors.Is(err, memstore.ErrNotFound) {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Internal("Failed to get conversation", err)
	}
	return toConversation(doc)
}

func (r *memoryConversationRepository) CreateIfAbsent(ctx context.Context, chatID string, fields repository.Fields) error {
	err := r.store.Create(chatPath(chatID), repository.Resolve(fields, memstore.ServerTimestamp))
	if stderrors.Is(err, memstore.ErrAlreadyExists) {
		return errors.Conflict("Conversation already exists", err)
	}
	return err
}

func (r *memoryConversationRepository) Merge(ctx context.Context, chatID string, fields repository.Fields) error {
	return r.store.Merge(chatPath(chatID), repository.Resolve(fields, memstore.ServerTimestamp))
}

func (r *memoryConversationRepository) Watch(ctx context.Context, chatID string, fn func(*entity.Conversation)) repository.Unsubscribe {
	cancel := r.store.ListenDoc(chatPath(chatID), func(doc memstore.Doc, exists bool) {
		if !exists {
			fn(nil)
			return
		}
		conv, err := toConversation(doc)
		if err != nil {
			log.Printf("Watch conversation %s: %v", chatID, err)
			return
		}
		fn(conv)
	})
	return stopWith(ctx, cancel)
}

func (r *memoryConversationRepository) WatchByMember(ctx context.Context, userID string, limit int, fn func([]*entity.Conversation)) repository.Unsubscribe {
	q := memstore.Query{
		Collection:    chatsCollection,
		ArrayContains: &memstore.Filter{Field: "members", Value: userID},
		OrderBy:       "lastAt",
		Descending:    true,
		Limit:         limit,
	}
	cancel := r.store.Listen(q, func(docs []memstore.Doc) {
		convs := make([]*entity.Conversation, 0, len(docs))
		for _, doc := range docs {
			conv, err := toConversation(doc)
			if err != nil {
				log.Printf("WatchByMember %s: skipping %s: %v", userID, doc.ID, err)
				continue
			}
			convs = append(convs, conv)
		}
		fn(convs)
	})
	return stopWith(ctx, cancel)
}

func (r *memoryConversationRepository) AppendMessage(ctx context.Context, chatID string, fields repository.Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Internal("Failed to append message", err)
	}
	return r.store.Add(messagesPath(chatID), repository.Resolve(fields, memstore.ServerTimestamp)), nil
}

func (r *memoryConversationRepository) LatestMessages(ctx context.Context, chatID string, limit int) ([]*entity.Message, error) {
	return toMessages(r.store.Query(r.latestQuery(chatID, limit)))
}

func (r *memoryConversationRepository) MessagesBefore(ctx context.Context, chatID string, cursor entity.Cursor, limit int) ([]*entity.Message, error) {
	q := r.latestQuery(chatID, limit)
	q.StartAfter = &memstore.Position{ID: cursor.ID, Value: cursor.CreatedAt}
	return toMessages(r.store.Query(q))
}

func (r *memoryConversationRepository) WatchLatestMessages(ctx context.Context, chatID string, limit int, fn func([]*entity.Message)) repository.Unsubscribe {
	cancel := r.store.Listen(r.latestQuery(chatID, limit), func(docs []memstore.Doc) {
		messages, err := toMessages(docs)
		if err != nil {
			log.Printf("WatchLatestMessages %s: %v", chatID, err)
			return
		}
		fn(messages)
	})
	return stopWith(ctx, cancel)
}

func (r *memoryConversationRepository) latestQuery(chatID string, limit int) memstore.Query {
	return memstore.Query{
		Collection: messagesPath(chatID),
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      limit,
	}
}

func toConversation(doc memstore.Doc) (*entity.Conversation, error) {
	var conv entity.Conversation
	if err := decodeDoc(doc, &conv); err != nil {
		return nil, err
	}
	conv.ID = doc.ID
	return &conv, nil
}

func toMessages(docs []memstore.Doc) ([]*entity.Message, error) {
	messages := make([]*entity.Message, 0, len(docs))
	for _, doc := range docs {
		var message entity.Message
		if err := decodeDoc(doc, &message); err != nil {
			return nil, err
		}
		message.ID = doc.ID
		messages = append(messages, &message)
	}
	return messages, nil
}
