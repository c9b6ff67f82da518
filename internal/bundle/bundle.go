package bundle

import (
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Bundle is one successfully loaded snapshot of the Lua bundle. A bundle is
// immutable from the outside: a reload builds a whole new Bundle and retires
// this one rather than mutating it.
//
// gopher-lua states are not goroutine-safe; the mutex serializes all calls
// into this snapshot.
type Bundle struct {
	mu sync.Mutex
	l  *lua.LState

	entry    string
	loadedAt time.Time

	closed bool
}

// Entry returns the entry chunk path this bundle was loaded from.
func (b *Bundle) Entry() string {
	return b.entry
}

// LoadedAt returns when the bundle finished loading.
func (b *Bundle) LoadedAt() time.Time {
	return b.loadedAt
}

// Call invokes a global Lua function. It returns an empty slice, not nil,
// when the function returns no values.
func (b *Bundle) Call(fn string, args ...lua.LValue) ([]lua.LValue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBundleClosed
	}

	fnVal := b.l.GetGlobal(fn)
	if fnVal == lua.LNil {
		return nil, fmt.Errorf("function %q not found", fn)
	}
	if fnVal.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%q is not a function (got %s)", fn, fnVal.Type())
	}

	stackTop := b.l.GetTop()

	b.l.Push(fnVal)
	for _, arg := range args {
		b.l.Push(arg)
	}

	var callErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("lua panic: %v", r)
			}
		}()
		callErr = b.l.PCall(len(args), lua.MultRet, nil)
	}()
	if callErr != nil {
		return nil, callErr
	}

	nRet := b.l.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = b.l.Get(stackTop + i + 1)
	}
	b.l.Pop(nRet)

	return results, nil
}

// Has reports whether the bundle defines a global function with this name.
func (b *Bundle) Has(fn string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	return b.l.GetGlobal(fn).Type() == lua.LTFunction
}

// Get returns a global value, or lua.LNil if the bundle is closed.
func (b *Bundle) Get(name string) lua.LValue {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return lua.LNil
	}
	return b.l.GetGlobal(name)
}

// GetString returns a global string value.
func (b *Bundle) GetString(name string) (string, bool) {
	v := b.Get(name)
	if s, ok := v.(lua.LString); ok {
		return string(s), true
	}
	return "", false
}

// GetBool returns a global value coerced to bool; ok is false when the
// global is unset.
func (b *Bundle) GetBool(name string) (value, ok bool) {
	v := b.Get(name)
	if v == lua.LNil {
		return false, false
	}
	return lua.LVAsBool(v), true
}

// IsClosed reports whether the bundle has been retired.
func (b *Bundle) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close releases the Lua state. In-flight calls finish first; later calls
// return ErrBundleClosed. Close is idempotent.
func (b *Bundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.l.Close()
	b.closed = true
	return nil
}
