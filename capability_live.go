//go:build live

package rekindle

import (
	"runtime"
	"weak"
)

// On registers fn to run with owner on every reload. The owner is held
// weakly and tagged with a unique token in the service's side table: once
// the owner is garbage collected the entry is released, by the GC cleanup
// hook or lazily on the next fan-out, and fn never runs again. fn must not
// capture owner itself; take it from the argument, or the entry can never
// be released.
//
// Registering arms the service. Close the returned registration to detach
// early. A stopped service hands back an inert registration.
func On[T any](s *Service, owner *T, fn func(*T)) *Registration {
	if s == nil || owner == nil || fn == nil || s.stopped.Load() {
		return inertRegistration()
	}

	w := weak.Make(owner)
	reg, err := s.dispatch.Register(func() bool {
		o := w.Value()
		if o == nil {
			return false
		}
		fn(o)
		return true
	})
	if err != nil {
		return inertRegistration()
	}

	// Release the table entry when the owner is collected rather than
	// waiting for the next fan-out to notice.
	runtime.AddCleanup(owner, func(token string) {
		s.dispatch.Remove(token)
	}, reg.ID())

	s.Arm()
	return &Registration{inner: reg}
}

// Enable arms the service and returns owner unchanged, so call sites keep
// their builder-style return shape:
//
//	return rekindle.Enable(svc, buildDashboard())
//
// Safe to call any number of times; only the first call arms.
func Enable[T any](s *Service, owner *T) *T {
	if s != nil {
		s.Arm()
	}
	return owner
}

// NewHost builds a stable holder whose value is rebuilt on every reload:
// the service re-runs build inside each fan-out while callers keep the same
// *Host and read Value. A nil service host builds once and never rebuilds.
func NewHost[T any](s *Service, build func() T) (*Host[T], error) {
	if build == nil {
		return nil, ErrNilBuilder
	}

	h := &Host[T]{build: build}
	h.value = build()
	if s != nil {
		h.reg = On(s, h, func(h *Host[T]) { h.rebuild() })
	}
	return h, nil
}
