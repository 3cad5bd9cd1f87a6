package usecase

import "sync"

// StopperRegistry lets a distant action, such as logout, end the presence tracking of a
// user without holding the tracker. It holds one stopper per user; registering a new one
// for the same user replaces the previous registration without calling it. Callers that
// want the old tracker ended must stop it before starting the new one, otherwise its
// offline write can land after the new tracker's online write.
type StopperRegistry struct {
	mu       sync.Mutex
	nextID   uint64
	stoppers map[int64]registeredStopper
}

type registeredStopper struct {
	id   uint64
	stop StopFunc
}

func NewStopperRegistry() *StopperRegistry {
	return &StopperRegistry{
		stoppers: make(map[int64]registeredStopper),
	}
}

// SetPresenceStopper makes stop the user's current stopper. The returned release
// function stops this tracker and clears the slot only if it is still the current one.
func (r *StopperRegistry) SetPresenceStopper(userID int64, stop StopFunc) (release func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.stoppers[userID] = registeredStopper{id: id, stop: stop}
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		if current, ok := r.stoppers[userID]; ok && current.id == id {
			delete(r.stoppers, userID)
		}
		r.mu.Unlock()
		stop()
	}
}

// StopPresenceIfAny stops the user's current tracker and reports whether there was one.
func (r *StopperRegistry) StopPresenceIfAny(userID int64) bool {
	r.mu.Lock()
	current, ok := r.stoppers[userID]
	delete(r.stoppers, userID)
	r.mu.Unlock()

	if ok {
		current.stop()
	}
	return ok
}

// StopAll stops every registered tracker, used on shutdown.
func (r *StopperRegistry) StopAll() {
	r.mu.Lock()
	all := r.stoppers
	r.stoppers = make(map[int64]registeredStopper)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(stop StopFunc) {
			defer wg.Done()
			stop()
		}(s.stop)
	}
	wg.Wait()
}
