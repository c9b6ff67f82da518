// Package term is a minimal tcell screen wrapper for the reload demo:
// init/fini, text and line drawing, and function events posted onto the
// screen's event loop.
package term

import (
	"sync"

	"github.com/gdamore/tcell/v2"
)

// Screen wraps a tcell screen. Drawing methods are safe for concurrent use;
// PollEvent belongs to the event-loop goroutine.
type Screen struct {
	mu sync.Mutex
	tc tcell.Screen
}

// New creates a screen on the real terminal.
func New() (*Screen, error) {
	tc, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return &Screen{tc: tc}, nil
}

// NewFrom wraps an existing tcell screen, typically a simulation screen in
// tests.
func NewFrom(tc tcell.Screen) *Screen {
	return &Screen{tc: tc}
}

// Init takes over the terminal.
func (s *Screen) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tc.Init(); err != nil {
		return err
	}
	s.tc.HideCursor()
	return nil
}

// Fini restores the terminal.
func (s *Screen) Fini() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tc.Fini()
}

func (s *Screen) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tc.Size()
}

func (s *Screen) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tc.Clear()
}

// Show flushes pending drawing to the terminal.
func (s *Screen) Show() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tc.Show()
}

// Sync repaints the whole screen in one pass.
func (s *Screen) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tc.Sync()
}

// SetText draws text starting at x, y.
func (s *Screen) SetText(x, y int, text string, style tcell.Style) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range text {
		s.tc.SetContent(x, y, r, nil, style)
		x++
	}
}

// HLine draws a horizontal line of width w starting at x, y.
func (s *Screen) HLine(x, y, w int, style tcell.Style) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < w; i++ {
		s.tc.SetContent(x+i, y, tcell.RuneHLine, nil, style)
	}
}

// Box draws a single-line border around the w by h region at x, y.
func (s *Screen) Box(x, y, w, h int, style tcell.Style) {
	if w < 2 || h < 2 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 1; i < w-1; i++ {
		s.tc.SetContent(x+i, y, tcell.RuneHLine, nil, style)
		s.tc.SetContent(x+i, y+h-1, tcell.RuneHLine, nil, style)
	}
	for j := 1; j < h-1; j++ {
		s.tc.SetContent(x, y+j, tcell.RuneVLine, nil, style)
		s.tc.SetContent(x+w-1, y+j, tcell.RuneVLine, nil, style)
	}
	s.tc.SetContent(x, y, tcell.RuneULCorner, nil, style)
	s.tc.SetContent(x+w-1, y, tcell.RuneURCorner, nil, style)
	s.tc.SetContent(x, y+h-1, tcell.RuneLLCorner, nil, style)
	s.tc.SetContent(x+w-1, y+h-1, tcell.RuneLRCorner, nil, style)
}

// Wrap runs apply and then resyncs the whole screen in one paint. It
// satisfies the reload service's Transition, so a reload batch lands on the
// terminal as a single visual update.
func (s *Screen) Wrap(apply func()) {
	apply()
	s.Sync()
}

// Post queues fn as a FuncEvent on the screen's event loop. It reports an
// error when the event queue is full.
func (s *Screen) Post(fn func()) error {
	return s.tc.PostEvent(NewFuncEvent(fn))
}

// PollEvent blocks for the next event. It returns nil once the screen is
// finalized.
func (s *Screen) PollEvent() tcell.Event {
	return s.tc.PollEvent()
}
