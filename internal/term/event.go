package term

import "github.com/gdamore/tcell/v2"

// FuncEvent carries a function through the tcell event queue so it runs on
// the event-loop goroutine. The reload service's post hook uses it to keep
// UI mutation single-threaded.
type FuncEvent struct {
	tcell.EventTime
	fn func()
}

// NewFuncEvent wraps fn in an event stamped with the current time.
func NewFuncEvent(fn func()) *FuncEvent {
	ev := &FuncEvent{fn: fn}
	ev.SetEventNow()
	return ev
}

// Run invokes the carried function.
func (e *FuncEvent) Run() {
	if e.fn != nil {
		e.fn()
	}
}
