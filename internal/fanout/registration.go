package fanout

import "sync/atomic"

// Callback runs on each reload pass. It reports whether it delivered; false
// means the callback's owner is gone and the registration should be dropped.
type Callback func() bool

// ChangeFunc observes generation bumps. Like Callback, returning false drops
// the registration.
type ChangeFunc func(gen uint64) bool

// Registration is a handle to one entry in the dispatcher's side table.
// Closing it removes the entry; the zero of everything else is internal.
type Registration struct {
	id   string
	list *registry

	closed atomic.Bool
}

// ID returns the registration's unique token.
func (r *Registration) ID() string {
	return r.id
}

// Active reports whether the registration can still receive broadcasts.
func (r *Registration) Active() bool {
	return !r.closed.Load()
}

// Close removes the registration. It is idempotent and safe to call from
// any goroutine, including from inside the registration's own callback.
func (r *Registration) Close() {
	if r == nil {
		return
	}
	if r.closed.Swap(true) {
		return
	}
	r.list.remove(r.id)
}
