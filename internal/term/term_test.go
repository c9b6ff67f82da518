package term

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func newSimScreen(t *testing.T) (*Screen, tcell.SimulationScreen) {
	t.Helper()

	sim := tcell.NewSimulationScreen("UTF-8")
	s := NewFrom(sim)
	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(s.Fini)
	return s, sim
}

// cellAt reads one rune from the simulated physical screen.
func cellAt(t *testing.T, sim tcell.SimulationScreen, x, y int) rune {
	t.Helper()

	cells, w, h := sim.GetContents()
	if x < 0 || y < 0 || x >= w || y >= h {
		t.Fatalf("cell (%d, %d) outside %dx%d screen", x, y, w, h)
	}
	c := cells[y*w+x]
	if len(c.Runes) == 0 {
		return ' '
	}
	return c.Runes[0]
}

func TestSetText(t *testing.T) {
	s, sim := newSimScreen(t)

	s.SetText(2, 1, "reload", tcell.StyleDefault)
	s.Show()

	for i, want := range "reload" {
		if got := cellAt(t, sim, 2+i, 1); got != want {
			t.Errorf("cell (%d, 1) = %q, want %q", 2+i, got, want)
		}
	}
}

func TestHLine(t *testing.T) {
	s, sim := newSimScreen(t)

	s.HLine(1, 3, 5, tcell.StyleDefault)
	s.Show()

	for i := 0; i < 5; i++ {
		if got := cellAt(t, sim, 1+i, 3); got != tcell.RuneHLine {
			t.Errorf("cell (%d, 3) = %q, want hline", 1+i, got)
		}
	}
	if got := cellAt(t, sim, 6, 3); got == tcell.RuneHLine {
		t.Error("line ran past its width")
	}
}

func TestBox(t *testing.T) {
	s, sim := newSimScreen(t)

	s.Box(0, 0, 6, 4, tcell.StyleDefault)
	s.Show()

	corners := []struct {
		x, y int
		want rune
	}{
		{0, 0, tcell.RuneULCorner},
		{5, 0, tcell.RuneURCorner},
		{0, 3, tcell.RuneLLCorner},
		{5, 3, tcell.RuneLRCorner},
	}
	for _, c := range corners {
		if got := cellAt(t, sim, c.x, c.y); got != c.want {
			t.Errorf("corner (%d, %d) = %q, want %q", c.x, c.y, got, c.want)
		}
	}
	if got := cellAt(t, sim, 2, 0); got != tcell.RuneHLine {
		t.Errorf("top edge = %q, want hline", got)
	}
	if got := cellAt(t, sim, 0, 1); got != tcell.RuneVLine {
		t.Errorf("left edge = %q, want vline", got)
	}

	// Degenerate boxes are ignored.
	s.Box(10, 10, 1, 1, tcell.StyleDefault)
}

func TestWrapSyncsAfterApply(t *testing.T) {
	s, sim := newSimScreen(t)

	applied := false
	s.Wrap(func() {
		s.SetText(0, 0, "x", tcell.StyleDefault)
		applied = true
	})

	if !applied {
		t.Fatal("Wrap did not run apply")
	}
	// The sync inside Wrap flushed the drawing without an explicit Show.
	if got := cellAt(t, sim, 0, 0); got != 'x' {
		t.Errorf("cell (0, 0) = %q after Wrap, want x", got)
	}
}

func TestPostDeliversFuncEvent(t *testing.T) {
	s, _ := newSimScreen(t)

	ran := false
	if err := s.Post(func() { ran = true }); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	ev := s.PollEvent()
	fe, ok := ev.(*FuncEvent)
	if !ok {
		t.Fatalf("PollEvent returned %T, want *FuncEvent", ev)
	}
	fe.Run()
	if !ran {
		t.Error("posted function did not run")
	}

	// A FuncEvent without a function is a no-op.
	NewFuncEvent(nil).Run()
}
