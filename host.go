package rekindle

import "sync"

// Host holds a value the reload service rebuilds. Call sites keep the same
// *Host across reloads and read the latest value with Value, so a stable
// reference survives structural changes to whatever build produces.
//
// Hosts are created with NewHost. The host itself owns its registration:
// dropping every reference to it releases the side-table entry.
type Host[T any] struct {
	mu    sync.RWMutex
	value T
	build func() T
	reg   *Registration
}

// Value returns the most recently built value.
func (h *Host[T]) Value() T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value
}

// Close stops rebuilding. The last built value stays readable. Close is
// idempotent.
func (h *Host[T]) Close() {
	h.reg.Close()
}

// rebuild runs the builder outside the lock; builders may take their time.
func (h *Host[T]) rebuild() {
	v := h.build()
	h.mu.Lock()
	h.value = v
	h.mu.Unlock()
}
