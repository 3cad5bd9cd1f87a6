package repository

import (
	"context"
	"sync"

	"lovelink/internal/domain/repository"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"
	presenceCollection = "presence"
)

// stopWith makes cancel idempotent and also runs it when ctx ends.
func stopWith(ctx context.Context, cancel func()) repository.Unsubscribe {
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop
}
