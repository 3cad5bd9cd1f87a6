package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"lovelink/internal/domain/entity"
	"lovelink/internal/domain/repository"
	"lovelink/internal/infrastructure/lifecycle"
	"lovelink/pkg/errors"
	"lovelink/pkg/logger"
)

// PresenceUseCase publishes a user's online/offline status and observes the status of
// arbitrary rosters. Status writes are merges; a record is never replaced.
type PresenceUseCase struct {
	presenceRepo repository.PresenceRepository
	batchSize    int
	stopTimeout  time.Duration
}

// StopFunc ends presence tracking. It is idempotent.
type StopFunc func()

func NewPresenceUseCase(presenceRepo repository.PresenceRepository, batchSize int, stopTimeout time.Duration) *PresenceUseCase {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &PresenceUseCase{
		presenceRepo: presenceRepo,
		batchSize:    batchSize,
		stopTimeout:  stopTimeout,
	}
}

// EnsureRecord creates an offline record for the user unless one exists.
func (uc *PresenceUseCase) EnsureRecord(ctx context.Context, userID int64, extra map[string]interface{}) error {
	fields := repository.Fields{}
	for k, v := range extra {
		fields[k] = v
	}
	fields["status"] = string(entity.PresenceOffline)
	fields["updatedAt"] = repository.ServerTimestamp

	err := uc.presenceRepo.CreateIfAbsent(ctx, UserKey(userID), fields)
	if err != nil && !errors.Is(err, "CONFLICT") {
		return err
	}
	return nil
}

func (uc *PresenceUseCase) SetStatus(ctx context.Context, userID int64, status entity.PresenceStatus) error {
	fields := repository.Fields{
		"status":    string(status),
		"updatedAt": repository.ServerTimestamp,
	}
	switch status {
	case entity.PresenceOnline:
	case entity.PresenceOffline:
		fields["lastSeen"] = repository.ServerTimestamp
	default:
		return errors.BadRequest("Unknown presence status", nil)
	}

	return uc.presenceRepo.Merge(ctx, UserKey(userID), fields)
}

// GetPresence returns the user's record, or an offline placeholder when none exists.
func (uc *PresenceUseCase) GetPresence(ctx context.Context, userID int64) (*entity.Presence, error) {
	p, err := uc.presenceRepo.GetByUserID(ctx, UserKey(userID))
	if err != nil {
		if errors.Is(err, "NOT_FOUND") {
			return &entity.Presence{UserID: UserKey(userID), Status: entity.PresenceOffline}, nil
		}
		return nil, err
	}
	return p, nil
}

func statusFor(state lifecycle.State) entity.PresenceStatus {
	if state == lifecycle.Active {
		return entity.PresenceOnline
	}
	return entity.PresenceOffline
}

// StartTracking marks the user online and follows source: active means online,
// background and inactive mean offline. Failures are logged, never returned. The
// returned StopFunc detaches from source and leaves the user offline.
func (uc *PresenceUseCase) StartTracking(ctx context.Context, userID int64, source lifecycle.Source) StopFunc {
	ctx = context.WithoutCancel(ctx)
	key := UserKey(userID)

	if err := uc.EnsureRecord(ctx, userID, nil); err != nil {
		logger.Swallowed("presence record creation", key, err)
	}
	if err := uc.SetStatus(ctx, userID, entity.PresenceOnline); err != nil {
		logger.Swallowed("presence online", key, err)
	}

	t := &presenceTracker{
		uc:     uc,
		ctx:    ctx,
		userID: userID,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go t.run()

	cancel := source.Subscribe(func(state lifecycle.State) {
		t.want(statusFor(state))
	})

	return func() {
		t.stop(cancel)
	}
}

// presenceTracker applies status changes one at a time, in order, keeping only the
// latest pending one. Stop queues offline as the final write.
type presenceTracker struct {
	uc     *PresenceUseCase
	ctx    context.Context
	userID int64

	mu         sync.Mutex
	pending    entity.PresenceStatus
	hasPending bool
	closed     bool

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (t *presenceTracker) want(status entity.PresenceStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.pending = status
	t.hasPending = true
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *presenceTracker) run() {
	defer close(t.done)
	for range t.wake {
		t.flush()
	}
	t.flush()
}

func (t *presenceTracker) flush() {
	t.mu.Lock()
	status, ok := t.pending, t.hasPending
	t.hasPending = false
	t.mu.Unlock()

	if !ok {
		return
	}
	if err := t.uc.SetStatus(t.ctx, t.userID, status); err != nil {
		logger.Swallowed("presence "+string(status), UserKey(t.userID), err)
	}
}

func (t *presenceTracker) stop(cancelSource func()) {
	t.stopOnce.Do(func() {
		cancelSource()

		t.mu.Lock()
		t.pending = entity.PresenceOffline
		t.hasPending = true
		t.closed = true
		close(t.wake)
		t.mu.Unlock()

		if t.uc.stopTimeout <= 0 {
			<-t.done
			return
		}
		select {
		case <-t.done:
		case <-time.After(t.uc.stopTimeout):
			logger.Warn("presence tracker for %d did not finish its offline write in %v", t.userID, t.uc.stopTimeout)
		}
	})
}

// ListenPresenceForUsers reports {userId: online} for every requested user. Ids are
// split into groups no wider than the store's id-in-set limit, one live query per
// group; each callback carries the full merged map. Users without a record map to
// false. An empty roster is answered once, synchronously, without a subscription.
func (uc *PresenceUseCase) ListenPresenceForUsers(ctx context.Context, userIDs []int64, onUpdate func(map[string]bool)) repository.Unsubscribe {
	ids := uniqueKeys(userIDs)
	if len(ids) == 0 {
		onUpdate(map[string]bool{})
		return func() {}
	}

	groups := chunk(ids, uc.batchSize)
	merge := &presenceMerge{
		groups:   make([]map[string]bool, len(groups)),
		onUpdate: onUpdate,
	}

	unsubs := make([]repository.Unsubscribe, 0, len(groups))
	for i, group := range groups {
		i, group := i, group
		unsubs = append(unsubs, uc.presenceRepo.WatchUsers(ctx, group, func(records []*entity.Presence) {
			merge.apply(i, group, records)
		}))
	}

	return func() {
		merge.stopped.Store(true)
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

type presenceMerge struct {
	mu       sync.Mutex
	groups   []map[string]bool
	onUpdate func(map[string]bool)
	stopped  atomic.Bool
}

func (m *presenceMerge) apply(idx int, group []string, records []*entity.Presence) {
	if m.stopped.Load() {
		return
	}

	snapshot := make(map[string]bool, len(group))
	for _, id := range group {
		snapshot[id] = false
	}
	for _, p := range records {
		snapshot[p.UserID] = p.IsOnline()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[idx] = snapshot

	merged := make(map[string]bool)
	for _, g := range m.groups {
		for id, online := range g {
			merged[id] = online
		}
	}
	m.onUpdate(merged)
}

func uniqueKeys(userIDs []int64) []string {
	seen := make(map[int64]bool, len(userIDs))
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, UserKey(id))
	}
	return keys
}

func chunk(ids []string, size int) [][]string {
	groups := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		groups = append(groups, ids[start:end])
	}
	return groups
}
