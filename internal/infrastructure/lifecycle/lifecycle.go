// Package lifecycle carries application foreground/background transitions from a
// client to whoever tracks that client's presence.
package lifecycle

import "sync"

type State string

const (
	Active     State = "active"
	Background State = "background"
	Inactive   State = "inactive"
)

func ParseState(s string) (State, bool) {
	switch State(s) {
	case Active, Background, Inactive:
		return State(s), true
	}
	return "", false
}

// Source emits lifecycle transitions to subscribers until they cancel.
type Source interface {
	Subscribe(fn func(State)) (cancel func())
}

// Broadcaster is a Source fed by Publish. Subscribers are called synchronously, in
// subscription order, outside the broadcaster's lock.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(State)
	order  []int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]func(State)),
	}
}

func (b *Broadcaster) Subscribe(fn func(State)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *Broadcaster) Publish(state State) {
	b.mu.Lock()
	targets := make([]func(State), 0, len(b.order))
	for _, id := range b.order {
		targets = append(targets, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range targets {
		fn(state)
	}
}

// Subscribers reports the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
