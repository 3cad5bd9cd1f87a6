package memstore

import "sync"

// listener re-runs its query after every write that touches its collection (or its
// document, for document listeners) and hands the result to fn on its own goroutine.
// Notifications coalesce: a slow callback observes the latest state, never a backlog.
type listener struct {
	collection string
	path       string
	query      Query
	wake       chan struct{}
	done       chan struct{}
	once       sync.Once
}

func (l *listener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *listener) stop() {
	l.once.Do(func() { close(l.done) })
}

// Listen delivers the result of q now and after every write to q.Collection until the
// returned cancel function is called. Cancel does not wait for a callback that is
// already running, so at most one in-flight call to fn may finish after cancel returns;
// no delivery starts after that. Callers that must not observe it guard fn themselves.
func (s *Store) Listen(q Query, fn func([]Doc)) func() {
	l := &listener{
		collection: q.Collection,
		query:      q,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	return s.register(l, func() {
		s.mu.Lock()
		docs := s.run(l.query)
		s.mu.Unlock()
		fn(docs)
	})
}

// ListenDoc delivers the document at path, with exists=false while it is absent.
// Cancellation behaves as in Listen.
func (s *Store) ListenDoc(path string, fn func(doc Doc, exists bool)) func() {
	coll, _ := splitPath(path)
	l := &listener{
		collection: coll,
		path:       path,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	return s.register(l, func() {
		s.mu.Lock()
		d := s.lookup(path)
		var doc Doc
		if d != nil {
			doc = snapshot(path, d)
		}
		s.mu.Unlock()
		fn(doc, d != nil)
	})
}

func (s *Store) register(l *listener, deliver func()) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.mu.Unlock()

	l.signal()
	go func() {
		for {
			select {
			case <-l.done:
				return
			case <-l.wake:
			}
			select {
			case <-l.done:
				return
			default:
			}
			deliver()
		}
	}()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
		l.stop()
	}
}

// ListenerCount reports the number of active listeners.
func (s *Store) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Store) notify(coll, path string) {
	s.mu.Lock()
	targets := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		if l.collection != coll {
			continue
		}
		if l.path != "" && l.path != path {
			continue
		}
		targets = append(targets, l)
	}
	s.mu.Unlock()

	for _, l := range targets {
		l.signal()
	}
}
