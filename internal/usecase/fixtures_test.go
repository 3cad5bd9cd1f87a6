package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	adapter "lovelink/internal/adapter/repository"
	"lovelink/internal/domain/entity"
	"lovelink/internal/domain/repository"
	"lovelink/internal/infrastructure/memstore"
	"lovelink/pkg/errors"
)

// countingChatRepo wraps a conversation repository to count writes and inject failures.
type countingChatRepo struct {
	repository.ConversationRepository

	creates atomic.Int32
	merges  atomic.Int32
	appends atomic.Int32

	failGet   bool
	failMerge bool
}

func (r *countingChatRepo) GetByID(ctx context.Context, chatID string) (*entity.Conversation, error) {
	if r.failGet {
		return nil, errors.Internal("Failed to get conversation", context.DeadlineExceeded)
	}
	return r.ConversationRepository.GetByID(ctx, chatID)
}

func (r *countingChatRepo) CreateIfAbsent(ctx context.Context, chatID string, fields repository.Fields) error {
	err := r.ConversationRepository.CreateIfAbsent(ctx, chatID, fields)
	if err == nil {
		r.creates.Add(1)
	}
	return err
}

func (r *countingChatRepo) Merge(ctx context.Context, chatID string, fields repository.Fields) error {
	if r.failMerge {
		return errors.Internal("Failed to update conversation", context.DeadlineExceeded)
	}
	r.merges.Add(1)
	return r.ConversationRepository.Merge(ctx, chatID, fields)
}

func (r *countingChatRepo) AppendMessage(ctx context.Context, chatID string, fields repository.Fields) (string, error) {
	r.appends.Add(1)
	return r.ConversationRepository.AppendMessage(ctx, chatID, fields)
}

type chatFixture struct {
	store *memstore.Store
	repo  *countingChatRepo
	uc    *ChatUseCase
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	store := memstore.New()
	repo := &countingChatRepo{ConversationRepository: adapter.NewMemoryConversationRepository(store)}
	return &chatFixture{
		store: store,
		repo:  repo,
		uc:    NewChatUseCase(repo, 30, 100),
	}
}

func (f *chatFixture) conversation(t *testing.T, chatID string) *entity.Conversation {
	t.Helper()
	conv, err := f.repo.ConversationRepository.GetByID(context.Background(), chatID)
	require.NoError(t, err)
	return conv
}

func (f *chatFixture) messages(t *testing.T, chatID string) []*entity.Message {
	t.Helper()
	msgs, err := f.repo.LatestMessages(context.Background(), chatID, 1000)
	require.NoError(t, err)
	return msgs
}

type presenceFixture struct {
	store *memstore.Store
	repo  repository.PresenceRepository
	uc    *PresenceUseCase
}

func newPresenceFixture(t *testing.T, batchSize int) *presenceFixture {
	t.Helper()
	store := memstore.New()
	repo := adapter.NewMemoryPresenceRepository(store)
	return &presenceFixture{
		store: store,
		repo:  repo,
		uc:    NewPresenceUseCase(repo, batchSize, 2*time.Second),
	}
}

func (f *presenceFixture) presence(t *testing.T, userID int64) *entity.Presence {
	t.Helper()
	p, err := f.repo.GetByUserID(context.Background(), UserKey(userID))
	require.NoError(t, err)
	return p
}

// recorder keeps the latest value handed to a callback.
type recorder[T any] struct {
	mu    sync.Mutex
	calls int
	last  T
}

func (r *recorder[T]) record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = v
}

func (r *recorder[T]) latest() (T, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.calls
}
