package fanout

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Result summarizes one broadcast pass.
type Result struct {
	// Generation is the counter value this pass published.
	Generation uint64

	// Delivered is the number of callbacks that ran.
	Delivered int

	// Skipped is the number of registrations dropped because their owner
	// was gone.
	Skipped int

	// Panicked is the number of callbacks that panicked and were recovered.
	Panicked int
}

// Stats reports cumulative dispatcher counters.
type Stats struct {
	Generation  uint64
	Broadcasts  uint64
	Delivered   uint64
	SkippedDead uint64
	Panics      uint64

	ActiveCallbacks int
	ActiveObservers int
}

// Dispatcher fans a reload announcement out to registered callbacks in
// registration order, then notifies generation observers. See the package
// documentation for the delivery contract.
type Dispatcher struct {
	callbacks *registry
	observers *registry

	gen     atomic.Uint64
	changes chan uint64

	// broadcastMu serializes passes.
	broadcastMu sync.Mutex

	config config

	broadcasts  atomic.Uint64
	delivered   atomic.Uint64
	skippedDead atomic.Uint64
	panics      atomic.Uint64
}

// NewDispatcher creates a dispatcher with the given options.
func NewDispatcher(opts ...Option) *Dispatcher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Dispatcher{
		callbacks: newRegistry(),
		observers: newRegistry(),
		changes:   make(chan uint64, cfg.changeBuffer),
		config:    cfg,
	}
}

// Register adds a callback to the side table. Callbacks run in registration
// order on every broadcast.
func (d *Dispatcher) Register(fn Callback) (*Registration, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	return d.callbacks.add(func(uint64) bool { return fn() }), nil
}

// OnChange adds a generation observer. Observers run after the callback
// pass, in registration order.
func (d *Dispatcher) OnChange(fn ChangeFunc) (*Registration, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	return d.observers.add(fn), nil
}

// Remove deletes a registration by token, whichever table holds it.
func (d *Dispatcher) Remove(id string) bool {
	return d.callbacks.remove(id) || d.observers.remove(id)
}

// Contains reports whether the token is registered.
func (d *Dispatcher) Contains(id string) bool {
	return d.callbacks.contains(id) || d.observers.contains(id)
}

// Generation returns the number of broadcasts performed.
func (d *Dispatcher) Generation() uint64 {
	return d.gen.Load()
}

// Changes returns the conflating generation channel. Receives observe the
// latest published generation; intermediate values may be skipped. The
// channel is shared, so it supports a single consumer.
func (d *Dispatcher) Changes() <-chan uint64 {
	return d.changes
}

// Broadcast performs one fan-out pass: bump the generation, invoke every
// live callback in registration order, drop registrations whose owner is
// gone, then notify generation observers and publish on the change channel.
// Passes are serialized; Broadcast must not be called from a callback.
func (d *Dispatcher) Broadcast() Result {
	d.broadcastMu.Lock()
	defer d.broadcastMu.Unlock()

	gen := d.gen.Add(1)
	res := Result{Generation: gen}

	var dead []string
	for _, e := range d.callbacks.snapshot() {
		if !e.reg.Active() {
			continue
		}
		alive, panicked := d.invoke(e, gen)
		switch {
		case panicked:
			res.Panicked++
		case alive:
			res.Delivered++
		default:
			res.Skipped++
			dead = append(dead, e.reg.id)
		}
	}
	d.callbacks.prune(dead)

	var deadObs []string
	for _, e := range d.observers.snapshot() {
		if !e.reg.Active() {
			continue
		}
		alive, panicked := d.invoke(e, gen)
		if panicked {
			res.Panicked++
		} else if !alive {
			deadObs = append(deadObs, e.reg.id)
		}
	}
	d.observers.prune(deadObs)

	d.publish(gen)

	d.broadcasts.Add(1)
	d.delivered.Add(uint64(res.Delivered))
	d.skippedDead.Add(uint64(res.Skipped))
	d.panics.Add(uint64(res.Panicked))

	return res
}

// Clear removes every registration from both tables.
func (d *Dispatcher) Clear() {
	d.callbacks.clear()
	d.observers.clear()
}

// Stats returns cumulative dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Generation:      d.gen.Load(),
		Broadcasts:      d.broadcasts.Load(),
		Delivered:       d.delivered.Load(),
		SkippedDead:     d.skippedDead.Load(),
		Panics:          d.panics.Load(),
		ActiveCallbacks: d.callbacks.count(),
		ActiveObservers: d.observers.count(),
	}
}

// invoke runs one entry with panic recovery. A panicking callback is
// reported but keeps its registration; only a normal false return marks the
// owner dead.
func (d *Dispatcher) invoke(e entry, gen uint64) (alive, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			alive = true
			if d.config.panicHandler != nil {
				d.config.panicHandler(e.reg.id, r, debug.Stack())
			}
		}
	}()

	alive = e.fn(gen)
	return alive, panicked
}

// publish puts gen on the change channel, displacing a stale value if the
// consumer is behind.
func (d *Dispatcher) publish(gen uint64) {
	for {
		select {
		case d.changes <- gen:
			return
		default:
		}
		select {
		case <-d.changes:
		default:
		}
	}
}
