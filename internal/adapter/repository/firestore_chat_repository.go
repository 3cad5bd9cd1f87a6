package repository

import (
	"context"
	"log"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lovelink/internal/domain/entity"
	"lovelink/internal/domain/repository"
	"lovelink/pkg/errors"
)

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

func (r *firestoreChatRepository) chat(chatID string) *firestore.DocumentRef {
	return r.client.Collection(chatsCollection).Doc(chatID)
}

func (r *firestoreChatRepository) messages(chatID string) *firestore.CollectionRef {
	return r.chat(chatID).Collection(messagesCollection)
}

func (r *firestoreChatRepository) GetByID(ctx context.Context, chatID string) (*entity.Conversation, error) {
	doc, err := r.chat(chatID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Internal("Failed to get conversation", err)
	}

	return docToConversation(doc)
}

func (r *firestoreChatRepository) CreateIfAbsent(ctx context.Context, chatID string, fields repository.Fields) error {
	_, err := r.chat(chatID).Create(ctx, toFirestore(fields))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Conversation already exists", err)
		}
		return errors.Internal("Failed to create conversation", err)
	}

	return nil
}

func (r *firestoreChatRepository) Merge(ctx context.Context, chatID string, fields repository.Fields) error {
	_, err := r.chat(chatID).Set(ctx, toFirestore(fields), firestore.MergeAll)
	if err != nil {
		return errors.Internal("Failed to update conversation", err)
	}

	return nil
}

func (r *firestoreChatRepository) Watch(ctx context.Context, chatID string, fn func(*entity.Conversation)) repository.Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	it := r.chat(chatID).Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			doc, err := it.Next()
			if err != nil {
				logListenerEnd(ctx, "conversation "+chatID, err)
				return
			}
			if ctx.Err() != nil {
				return
			}
			if !doc.Exists() {
				fn(nil)
				continue
			}
			conv, err := docToConversation(doc)
			if err != nil {
				log.Printf("Watch conversation %s: %v", chatID, err)
				continue
			}
			fn(conv)
		}
	}()

	return stopWith(ctx, cancel)
}

func (r *firestoreChatRepository) WatchByMember(ctx context.Context, userID string, limit int, fn func([]*entity.Conversation)) repository.Unsubscribe {
	query := r.client.Collection(chatsCollection).
		Where("members", "array-contains", userID).
		OrderBy("lastAt", firestore.Desc).
		Limit(limit)

	return watchQuery(ctx, query, "conversations of "+userID, func(docs []*firestore.DocumentSnapshot) {
		convs := make([]*entity.Conversation, 0, len(docs))
		for _, doc := range docs {
			conv, err := docToConversation(doc)
			if err != nil {
				log.Printf("WatchByMember %s: skipping %s: %v", userID, doc.Ref.ID, err)
				continue
			}
			convs = append(convs, conv)
		}
		fn(convs)
	})
}

func (r *firestoreChatRepository) AppendMessage(ctx context.Context, chatID string, fields repository.Fields) (string, error) {
	ref, _, err := r.messages(chatID).Add(ctx, toFirestore(fields))
	if err != nil {
		return "", errors.Internal("Failed to create message", err)
	}

	return ref.ID, nil
}

// latest orders by createdAt and then by document id so that equal timestamps keep a
// stable order and cursors can address them.
func (r *firestoreChatRepository) latest(chatID string, limit int) firestore.Query {
	return r.messages(chatID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(limit)
}

func (r *firestoreChatRepository) LatestMessages(ctx context.Context, chatID string, limit int) ([]*entity.Message, error) {
	return r.readMessages(ctx, chatID, r.latest(chatID, limit))
}

func (r *firestoreChatRepository) MessagesBefore(ctx context.Context, chatID string, cursor entity.Cursor, limit int) ([]*entity.Message, error) {
	query := r.latest(chatID, limit).StartAfter(cursor.CreatedAt, cursor.ID)
	return r.readMessages(ctx, chatID, query)
}

func (r *firestoreChatRepository) readMessages(ctx context.Context, chatID string, query firestore.Query) ([]*entity.Message, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	messages := []*entity.Message{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			log.Printf("Firestore error while iterating messages for chat %s: %v", chatID, err)
			return nil, errors.Internal("Failed to iterate messages", err)
		}

		message, err := docToMessage(doc)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	return messages, nil
}

func (r *firestoreChatRepository) WatchLatestMessages(ctx context.Context, chatID string, limit int, fn func([]*entity.Message)) repository.Unsubscribe {
	return watchQuery(ctx, r.latest(chatID, limit), "messages of "+chatID, func(docs []*firestore.DocumentSnapshot) {
		messages := make([]*entity.Message, 0, len(docs))
		for _, doc := range docs {
			message, err := docToMessage(doc)
			if err != nil {
				log.Printf("WatchLatestMessages %s: skipping %s: %v", chatID, doc.Ref.ID, err)
				continue
			}
			messages = append(messages, message)
		}
		fn(messages)
	})
}

func docToConversation(doc *firestore.DocumentSnapshot) (*entity.Conversation, error) {
	var conv entity.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	conv.ID = doc.Ref.ID
	return &conv, nil
}

func docToMessage(doc *firestore.DocumentSnapshot) (*entity.Message, error) {
	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	message.ID = doc.Ref.ID
	return &message, nil
}
