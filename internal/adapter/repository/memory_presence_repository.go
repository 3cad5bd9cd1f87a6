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

type memoryPresenceRepository struct {
	store *memstore.Store
}

func NewMemoryPresenceRepository(store *memstore.Store) repository.PresenceRepository {
	return &memoryPresenceRepository{
		store: store,
	}
}

func (r *memoryPresenceRepository) GetByUserID(ctx context.Context, userID string) (*entity.Presence, error) {
	doc, err := r.store.Get(presenceCollection + "/" + userID)
	if err != nil {
		if stderrors.Is(err, memstore.ErrNotFound) {
			return nil, errors.NotFound("Presence", err)
		}
		return nil, errors.Internal("Failed to get presence", err)
	}
	return toPresence(doc)
}

func (r *memoryPresenceRepository) CreateIfAbsent(ctx context.Context, userID string, fields repository.Fields) error {
	err := r.store.Create(presenceCollection+"/"+userID, repository.Resolve(fields, memstore.ServerTimestamp))
	if stderrors.Is(err, memstore.ErrAlreadyExists) {
		return errors.Conflict("Presence already exists", err)
	}
	return err
}

func (r *memoryPresenceRepository) Merge(ctx context.Context, userID string, fields repository.Fields) error {
	if err := ctx.Err(); err != nil {
		return errors.Internal("Failed to update presence", err)
	}
	return r.store.Merge(presenceCollection+"/"+userID, repository.Resolve(fields, memstore.ServerTimestamp))
}

func (r *memoryPresenceRepository) WatchUsers(ctx context.Context, userIDs []string, fn func([]*entity.Presence)) repository.Unsubscribe {
	q := memstore.Query{
		Collection: presenceCollection,
		IDIn:       append([]string(nil), userIDs...),
	}
	cancel := r.store.Listen(q, func(docs []memstore.Doc) {
		records := make([]*entity.Presence, 0, len(docs))
		for _, doc := range docs {
			p, err := toPresence(doc)
			if err != nil {
				log.Printf("WatchUsers: skipping %s: %v", doc.ID, err)
				continue
			}
			records = append(records, p)
		}
		fn(records)
	})
	return stopWith(ctx, cancel)
}

func toPresence(doc memstore.Doc) (*entity.Presence, error) {
	var p entity.Presence
	if err := decodeDoc(doc, &p); err != nil {
		return nil, err
	}
	p.UserID = doc.ID
	return &p, nil
}
