package fanout

import (
	"sync"

	"github.com/google/uuid"
)

// entry pairs a registration handle with its invocation function. Callbacks
// and generation observers share the shape; callbacks ignore the generation
// argument.
type entry struct {
	reg *Registration
	fn  func(gen uint64) bool
}

// registry is the ordered side table of registrations. Entries keep their
// registration order; removal splices the slice without reordering.
// It is safe for concurrent use.
type registry struct {
	mu      sync.RWMutex
	entries []entry
	byID    map[string]*Registration
}

func newRegistry() *registry {
	return &registry{
		byID: make(map[string]*Registration),
	}
}

// add appends a new registration for fn and returns its handle.
func (r *registry) add(fn func(gen uint64) bool) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg := &Registration{
		id:   uuid.New().String(),
		list: r,
	}
	r.entries = append(r.entries, entry{reg: reg, fn: fn})
	r.byID[reg.id] = reg
	return reg
}

// remove deletes a registration by token.
func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *registry) removeLocked(id string) bool {
	reg, exists := r.byID[id]
	if !exists {
		return false
	}
	reg.closed.Store(true)

	for i := range r.entries {
		if r.entries[i].reg.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	delete(r.byID, id)
	return true
}

// prune removes a batch of registrations, typically the dead owners found
// during a broadcast pass.
func (r *registry) prune(ids []string) int {
	if len(ids) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if r.removeLocked(id) {
			removed++
		}
	}
	return removed
}

// snapshot returns a copy of the entries in registration order. Broadcasts
// iterate the copy so callbacks may register and close freely.
func (r *registry) snapshot() []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return nil
	}
	out := make([]entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// contains reports whether the token is registered.
func (r *registry) contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byID[id]
	return ok
}

// count returns the number of registrations.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// clear removes every registration.
func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		e.reg.closed.Store(true)
	}
	r.entries = nil
	r.byID = make(map[string]*Registration)
}
