package repository

import (
	"context"
	"log"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lovelink/internal/domain/entity"
	"lovelink/internal/domain/repository"
	"lovelink/pkg/errors"
)

type firestorePresenceRepository struct {
	client *firestore.Client
}

func NewFirestorePresenceRepository(client *firestore.Client) repository.PresenceRepository {
	return &firestorePresenceRepository{
		client: client,
	}
}

func (r *firestorePresenceRepository) presence() *firestore.CollectionRef {
	return r.client.Collection(presenceCollection)
}

func (r *firestorePresenceRepository) GetByUserID(ctx context.Context, userID string) (*entity.Presence, error) {
	doc, err := r.presence().Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Presence", err)
		}
		return nil, errors.Internal("Failed to get presence", err)
	}

	return docToPresence(doc)
}

func (r *firestorePresenceRepository) CreateIfAbsent(ctx context.Context, userID string, fields repository.Fields) error {
	_, err := r.presence().Doc(userID).Create(ctx, toFirestore(fields))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Presence already exists", err)
		}
		return errors.Internal("Failed to create presence", err)
	}

	return nil
}

func (r *firestorePresenceRepository) Merge(ctx context.Context, userID string, fields repository.Fields) error {
	_, err := r.presence().Doc(userID).Set(ctx, toFirestore(fields), firestore.MergeAll)
	if err != nil {
		return errors.Internal("Failed to update presence", err)
	}

	return nil
}

func (r *firestorePresenceRepository) WatchUsers(ctx context.Context, userIDs []string, fn func([]*entity.Presence)) repository.Unsubscribe {
	refs := make([]*firestore.DocumentRef, 0, len(userIDs))
	for _, id := range userIDs {
		refs = append(refs, r.presence().Doc(id))
	}
	query := r.presence().Where(firestore.DocumentID, "in", refs)

	return watchQuery(ctx, query, "presence", func(docs []*firestore.DocumentSnapshot) {
		records := make([]*entity.Presence, 0, len(docs))
		for _, doc := range docs {
			p, err := docToPresence(doc)
			if err != nil {
				log.Printf("WatchUsers: skipping %s: %v", doc.Ref.ID, err)
				continue
			}
			records = append(records, p)
		}
		fn(records)
	})
}

func docToPresence(doc *firestore.DocumentSnapshot) (*entity.Presence, error) {
	var p entity.Presence
	if err := doc.DataTo(&p); err != nil {
		return nil, errors.Internal("Failed to parse presence data", err)
	}
	p.UserID = doc.Ref.ID
	return &p, nil
}
