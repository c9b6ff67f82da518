// Package bundle runs the reloadable Lua payload.
//
// A Runtime loads the bundle's entry chunk into a fresh sandboxed Lua state
// and publishes it as the current Bundle. Reloading never mutates a live
// bundle: the new state is built and executed first, and only on success is
// it swapped in and the old snapshot retired. A failed load leaves the
// current bundle untouched.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Module is a set of Go functions installed as a named Lua table in every
// fresh bundle state, before the entry chunk runs.
type Module struct {
	Name  string
	Funcs map[string]lua.LGFunction
}

// Stats reports cumulative runtime counters.
type Stats struct {
	// Loads is the number of successful loads.
	Loads uint64

	// Failures is the number of failed loads.
	Failures uint64

	// LoadedAt is when the current bundle finished loading; zero when no
	// load has succeeded.
	LoadedAt time.Time
}

// Runtime manages loading and swapping bundles.
type Runtime struct {
	dir   string
	entry string

	modules []Module

	// loadMu serializes loads; current is the published snapshot.
	loadMu  sync.Mutex
	current atomic.Pointer[Bundle]
	closed  bool

	loads    atomic.Uint64
	failures atomic.Uint64
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithModule installs a host module into every fresh bundle state.
func WithModule(name string, funcs map[string]lua.LGFunction) Option {
	return func(r *Runtime) {
		r.modules = append(r.modules, Module{Name: name, Funcs: funcs})
	}
}

// New creates a runtime for the bundle at dir with the given entry chunk.
// Nothing is loaded until the first Load or Reload.
func New(dir, entry string, opts ...Option) *Runtime {
	r := &Runtime{
		dir:   dir,
		entry: entry,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EntryPath returns the full entry chunk path.
func (r *Runtime) EntryPath() string {
	return filepath.Join(r.dir, r.entry)
}

// Load builds a fresh state, executes the entry chunk, and on success swaps
// the result in as the current bundle, retiring the previous one.
func (r *Runtime) Load() (*Bundle, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	if r.closed {
		return nil, ErrRuntimeClosed
	}

	entryPath := r.EntryPath()
	if _, err := os.Stat(entryPath); err != nil {
		r.failures.Add(1)
		return nil, fmt.Errorf("bundle: entry %s: %w", entryPath, err)
	}

	l := newSafeState()
	for _, mod := range r.modules {
		l.SetGlobal(mod.Name, l.SetFuncs(l.NewTable(), mod.Funcs))
	}

	if err := doFileWithRecovery(l, entryPath); err != nil {
		l.Close()
		r.failures.Add(1)
		return nil, fmt.Errorf("bundle: loading %s: %w", entryPath, err)
	}

	b := &Bundle{
		l:        l,
		entry:    entryPath,
		loadedAt: time.Now(),
	}

	old := r.current.Swap(b)
	if old != nil {
		_ = old.Close()
	}
	r.loads.Add(1)

	return b, nil
}

// Reload is Load without the handle, for callers that only track success.
func (r *Runtime) Reload() error {
	_, err := r.Load()
	return err
}

// Current returns the current bundle, or nil before the first successful
// load and after Close.
func (r *Runtime) Current() *Bundle {
	return r.current.Load()
}

// Stats returns cumulative runtime counters.
func (r *Runtime) Stats() Stats {
	s := Stats{
		Loads:    r.loads.Load(),
		Failures: r.failures.Load(),
	}
	if b := r.current.Load(); b != nil {
		s.LoadedAt = b.loadedAt
	}
	return s
}

// Close retires the current bundle and rejects further loads.
func (r *Runtime) Close() error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if old := r.current.Swap(nil); old != nil {
		return old.Close()
	}
	return nil
}

// newSafeState creates a Lua state with only the safe standard libraries.
// io, os, debug, and package stay closed; the bundle is dev-tool payload,
// not a trusted extension.
func newSafeState() *lua.LState {
	l := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	lua.OpenBase(l)
	lua.OpenTable(l)
	lua.OpenString(l)
	lua.OpenMath(l)

	return l
}

// doFileWithRecovery executes the entry chunk with panic recovery. A chunk
// that panics the VM is a failed load, not a crashed host.
func doFileWithRecovery(l *lua.LState, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return l.DoFile(path)
}
