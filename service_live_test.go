//go:build live

package rekindle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/rekindle/internal/config"
	"github.com/dshills/rekindle/internal/manifest"
	"github.com/dshills/rekindle/internal/source"
)

// newTestService builds a quiet service with no proc signal so tests stay
// isolated, and stops it on cleanup.
func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()

	base := []Option{WithSignal(nil), WithLogger(zerolog.Nop())}
	svc, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := svc.Stop(ctx); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
	return svc
}

func TestBroadcastOrder(t *testing.T) {
	svc := newTestService(t)

	var order []string
	for _, name := range []string{"a", "b", "c", "d"} {
		svc.OnReload(func() { order = append(order, name) })
	}

	svc.Broadcast()

	got := ""
	for _, n := range order {
		got += n
	}
	if got != "abcd" {
		t.Errorf("callback order = %q, want abcd", got)
	}

	svc.Broadcast()
	if len(order) != 8 {
		t.Errorf("callbacks ran %d times over two reloads, want 8", len(order))
	}
}

func TestGenerationCounting(t *testing.T) {
	svc := newTestService(t)

	if svc.Generation() != 0 {
		t.Errorf("initial Generation() = %d, want 0", svc.Generation())
	}

	var seen []uint64
	svc.OnChange(func(gen uint64) { seen = append(seen, gen) })
	ch := svc.Changes()

	svc.Broadcast()
	svc.Broadcast()
	svc.Broadcast()

	if svc.Generation() != 3 {
		t.Errorf("Generation() = %d, want 3", svc.Generation())
	}
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Errorf("observer saw %v, want [1 2 3]", seen)
	}

	// The channel conflates to the latest generation.
	select {
	case gen := <-ch:
		if gen != 3 {
			t.Errorf("Changes() delivered %d, want 3", gen)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting on Changes()")
	}
}

func TestChangesArms(t *testing.T) {
	svc := newTestService(t)

	_ = svc.Changes()
	if !svc.armed.Load() {
		t.Error("Changes() did not arm the service")
	}
}

func TestOnSkipsCollectedOwner(t *testing.T) {
	type widget struct{ name string }

	svc := newTestService(t)

	fired := map[string]int{}
	register := func(name string) (*widget, *Registration) {
		w := &widget{name: name}
		return w, On(svc, w, func(w *widget) { fired[w.name]++ })
	}

	a, regA := register("a")
	_, regB := register("b") // the only strong reference is dropped here
	c, regC := register("c")

	runtime.GC()
	runtime.GC()

	svc.Broadcast()

	if fired["a"] != 1 || fired["c"] != 1 {
		t.Errorf("fired = %v, want a and c once each", fired)
	}
	if fired["b"] != 0 {
		t.Errorf("callback for collected owner ran %d times", fired["b"])
	}
	if regB.Active() {
		t.Error("registration for collected owner still active after fan-out")
	}
	if !regA.Active() || !regC.Active() {
		t.Error("live registrations were dropped")
	}

	// A second reload keeps delivering to the survivors.
	svc.Broadcast()
	if fired["a"] != 2 || fired["c"] != 2 {
		t.Errorf("after second reload fired = %v, want a and c twice", fired)
	}

	runtime.KeepAlive(a)
	runtime.KeepAlive(c)
}

func TestEnableArmsOnce(t *testing.T) {
	svc := newTestService(t)

	type screen struct{ rows int }
	sc := &screen{rows: 24}

	for i := 0; i < 3; i++ {
		if got := Enable(svc, sc); got != sc {
			t.Fatal("Enable did not return the owner unchanged")
		}
	}
	if !svc.armed.Load() {
		t.Error("Enable did not arm the service")
	}

	svc.mu.Lock()
	n := len(svc.sources)
	svc.mu.Unlock()
	if n != 0 {
		t.Errorf("sources = %d, want 0 with no manifest and no signal", n)
	}
}

func TestTransitionWrapsBatch(t *testing.T) {
	svc := newTestService(t)

	var order []string
	svc.OnReload(func() { order = append(order, "cb1") })
	svc.OnReload(func() { order = append(order, "cb2") })

	var genBefore, genAfter uint64
	svc.SetTransition(TransitionFunc(func(apply func()) {
		genBefore = svc.Generation()
		order = append(order, "begin")
		apply()
		order = append(order, "end")
		genAfter = svc.Generation()
	}))

	svc.Broadcast()

	want := []string{"begin", "cb1", "cb2", "end"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	// The generation bump happens inside the wrapped batch.
	if genBefore != 0 || genAfter != 1 {
		t.Errorf("generation around batch = (%d, %d), want (0, 1)", genBefore, genAfter)
	}

	// Removing the transition restores plain synchronous delivery.
	svc.SetTransition(nil)
	order = order[:0]
	svc.Broadcast()
	if len(order) != 2 || order[0] != "cb1" || order[1] != "cb2" {
		t.Errorf("unwrapped order = %v, want [cb1 cb2]", order)
	}
}

func TestWithTransitionOption(t *testing.T) {
	wrapped := 0
	svc := newTestService(t, WithTransition(TransitionFunc(func(apply func()) {
		wrapped++
		apply()
	})))

	svc.OnReload(func() {})
	svc.Broadcast()
	svc.Broadcast()

	if wrapped != 2 {
		t.Errorf("transition wrapped %d batches, want 2", wrapped)
	}
}

type stubLoader struct {
	mu    sync.Mutex
	calls int
	err   error
	then  func()
}

func (l *stubLoader) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.then != nil {
		l.then()
	}
	return l.err
}

func (l *stubLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestLoaderGatesFanOut(t *testing.T) {
	var order []string
	loader := &stubLoader{
		err:  errors.New("syntax error in init.lua"),
		then: func() { order = append(order, "load") },
	}
	svc := newTestService(t, WithLoader(loader))
	svc.OnReload(func() { order = append(order, "cb") })

	// A failed load suppresses the fan-out entirely.
	svc.Broadcast()
	if svc.Generation() != 0 {
		t.Errorf("Generation() after failed load = %d, want 0", svc.Generation())
	}
	if len(order) != 1 || order[0] != "load" {
		t.Errorf("order after failed load = %v, want [load]", order)
	}

	loader.mu.Lock()
	loader.err = nil
	loader.mu.Unlock()

	// Load precedes delivery so callbacks rebuild against new definitions.
	svc.Broadcast()
	if svc.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", svc.Generation())
	}
	if len(order) != 3 || order[1] != "load" || order[2] != "cb" {
		t.Errorf("order = %v, want [load load cb]", order)
	}
	if loader.count() != 2 {
		t.Errorf("loader ran %d times, want 2", loader.count())
	}
}

func TestManifestStampDelivers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, manifest.DefaultName)
	if _, err := manifest.Stamp(path, "demo", nil); err != nil {
		t.Fatalf("Stamp() error = %v", err)
	}

	svc := newTestService(t, WithManifest(path), WithDebounce(20*time.Millisecond))

	gens := make(chan uint64, 4)
	svc.OnChange(func(gen uint64) { gens <- gen })

	if _, err := manifest.Stamp(path, "demo", nil); err != nil {
		t.Fatalf("Stamp() error = %v", err)
	}

	select {
	case gen := <-gens:
		if gen != 1 {
			t.Errorf("first stamped reload generation = %d, want 1", gen)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for stamped reload")
	}
}

func TestMissingBundleDirStaysInert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", manifest.DefaultName)
	svc := newTestService(t, WithManifest(path))

	svc.Arm()

	if !svc.armed.Load() {
		t.Error("service did not arm")
	}
	svc.mu.Lock()
	n := len(svc.sources)
	svc.mu.Unlock()
	if n != 0 {
		t.Errorf("sources = %d, want 0 when the bundle directory is missing", n)
	}
}

func TestProcSignalDelivers(t *testing.T) {
	svc := newTestService(t, WithSignal(syscall.SIGUSR1))

	fired := make(chan struct{}, 1)
	svc.OnReload(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for signal-driven reload")
	}
}

func TestWithPostDefersBatch(t *testing.T) {
	var queue []func()
	svc := newTestService(t, WithPost(func(fn func()) { queue = append(queue, fn) }))

	wrapped := false
	svc.SetTransition(TransitionFunc(func(apply func()) {
		wrapped = true
		apply()
	}))

	ran := false
	svc.OnReload(func() { ran = true })

	svc.Broadcast()
	if ran {
		t.Fatal("callback ran before the posted batch was executed")
	}
	if svc.Generation() != 0 {
		t.Fatalf("Generation() = %d before posted batch, want 0", svc.Generation())
	}
	if len(queue) != 1 {
		t.Fatalf("post received %d batches, want 1", len(queue))
	}

	queue[0]()

	if !ran {
		t.Error("callback did not run when the posted batch executed")
	}
	if !wrapped {
		t.Error("transition did not wrap the posted batch")
	}
	if svc.Generation() != 1 {
		t.Errorf("Generation() = %d after posted batch, want 1", svc.Generation())
	}
}

func TestRegistrationClose(t *testing.T) {
	svc := newTestService(t)

	count := 0
	reg := svc.OnReload(func() { count++ })

	svc.Broadcast()
	reg.Close()
	reg.Close()
	svc.Broadcast()

	if count != 1 {
		t.Errorf("callback ran %d times, want 1", count)
	}
	if reg.Active() {
		t.Error("registration active after Close")
	}

	// Closing during a fan-out affects the next pass only.
	calls := 0
	var self *Registration
	self = svc.OnReload(func() {
		calls++
		self.Close()
	})
	svc.Broadcast()
	svc.Broadcast()
	if calls != 1 {
		t.Errorf("self-closing callback ran %d times, want 1", calls)
	}
}

func TestHostRebuilds(t *testing.T) {
	svc := newTestService(t)

	n := 0
	h, err := NewHost(svc, func() string {
		n++
		return fmt.Sprintf("v%d", n)
	})
	if err != nil {
		t.Fatalf("NewHost() error = %v", err)
	}

	if h.Value() != "v1" {
		t.Errorf("initial Value() = %q, want v1", h.Value())
	}

	svc.Broadcast()
	if h.Value() != "v2" {
		t.Errorf("Value() after reload = %q, want v2", h.Value())
	}
	svc.Broadcast()
	if h.Value() != "v3" {
		t.Errorf("Value() after second reload = %q, want v3", h.Value())
	}

	h.Close()
	svc.Broadcast()
	if h.Value() != "v3" {
		t.Errorf("Value() after Close = %q, want v3", h.Value())
	}
}

func TestHostWithoutService(t *testing.T) {
	n := 0
	h, err := NewHost(nil, func() int { n++; return n })
	if err != nil {
		t.Fatalf("NewHost(nil service) error = %v", err)
	}
	if h.Value() != 1 || n != 1 {
		t.Errorf("Value() = %d with %d builds, want 1 and 1", h.Value(), n)
	}
	h.Close()
}

func TestPanickingCallbackIsIsolated(t *testing.T) {
	svc := newTestService(t)

	ran := false
	svc.OnReload(func() { panic("widget exploded") })
	svc.OnReload(func() { ran = true })

	svc.Broadcast()
	if !ran {
		t.Error("callback after the panicking one did not run")
	}
	if svc.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", svc.Generation())
	}
}

func TestStopTerminal(t *testing.T) {
	ctx := context.Background()

	svc, err := New(WithSignal(nil), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() before Arm error = %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	// Arming after Stop stays inert.
	count := 0
	svc.OnReload(func() { count++ })
	svc.Broadcast()
	if count != 0 || svc.Generation() != 0 {
		t.Errorf("stopped service delivered: count = %d, generation = %d", count, svc.Generation())
	}

	// Stopping an armed service drains cleanly and stays idempotent.
	svc2, err := New(WithSignal(nil), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	svc2.OnReload(func() {})
	if err := svc2.Stop(ctx); err != nil {
		t.Fatalf("Stop() armed error = %v", err)
	}
	if err := svc2.Stop(ctx); err != nil {
		t.Fatalf("second Stop() armed error = %v", err)
	}
}

// gateLoader signals each Reload entry and blocks until released, holding a
// cycle open across Stop.
type gateLoader struct {
	entered chan struct{}
	release chan struct{}
}

func (l *gateLoader) Reload() error {
	l.entered <- struct{}{}
	<-l.release
	return nil
}

func TestStopDrainsManualCycle(t *testing.T) {
	loader := &gateLoader{entered: make(chan struct{}, 2), release: make(chan struct{})}
	svc := newTestService(t, WithLoader(loader))

	delivered := make(chan struct{}, 2)
	svc.OnReload(func() { delivered <- struct{}{} })

	go svc.Broadcast()
	select {
	case <-loader.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the cycle to enter the loader")
	}

	stopRet := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopRet <- svc.Stop(ctx)
	}()

	// Stop must not return while the cycle is still inside the loader.
	select {
	case err := <-stopRet:
		t.Fatalf("Stop() = %v before the in-flight cycle drained", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(loader.release)

	select {
	case err := <-stopRet:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Stop to return")
	}

	// The drained cycle delivered before Stop returned.
	select {
	case <-delivered:
	default:
		t.Error("in-flight cycle did not deliver before Stop returned")
	}

	// A cycle that slips past the Broadcast gate after Stop stays quiet.
	svc.cycle(source.Signal{Cause: source.CauseManual, At: time.Now()})
	select {
	case <-loader.entered:
		t.Error("loader ran on a stopped service")
	default:
	}
	select {
	case <-delivered:
		t.Error("stopped service delivered a reload")
	default:
	}
}

// stuckSource never produces and, unlike the real sources, never closes its
// channels on Close.
type stuckSource struct {
	sigs chan source.Signal
	errs chan error
}

func (s *stuckSource) Signals() <-chan source.Signal { return s.sigs }
func (s *stuckSource) Errors() <-chan error          { return s.errs }
func (s *stuckSource) Close() error                  { return nil }

func TestForwarderExitsOnStop(t *testing.T) {
	svc := newTestService(t)

	src := &stuckSource{sigs: make(chan source.Signal), errs: make(chan error)}
	svc.mu.Lock()
	svc.sources = append(svc.sources, src)
	svc.mu.Unlock()
	svc.wg.Add(1)
	go svc.forward(src)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() = %v, want nil with an idle forwarder", err)
	}
}

func TestConcurrentArmStop(t *testing.T) {
	base := runtime.NumGoroutine()

	for i := 0; i < 150; i++ {
		svc, err := New(WithSignal(syscall.SIGUSR1), WithLogger(zerolog.Nop()))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			svc.Arm()
		}()
		go func() {
			defer wg.Done()
			<-start
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := svc.Stop(ctx); err != nil {
				t.Errorf("Stop() error = %v", err)
			}
		}()
		close(start)
		wg.Wait()
	}

	// Forwarders and run loops from every round must be gone.
	deadline := time.After(2 * time.Second)
	for runtime.NumGoroutine() > base+3 {
		select {
		case <-deadline:
			t.Fatalf("goroutines = %d after churn, started at %d", runtime.NumGoroutine(), base)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRegisterAfterStopInert(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	reg := svc.OnReload(func() { t.Error("reload callback ran on a stopped service") })
	if reg.Active() {
		t.Error("OnReload after Stop returned an active registration")
	}
	obs := svc.OnChange(func(uint64) { t.Error("observer ran on a stopped service") })
	if obs.Active() {
		t.Error("OnChange after Stop returned an active registration")
	}

	type widget struct{ n int }
	w := &widget{}
	onReg := On(svc, w, func(*widget) { t.Error("owner callback ran on a stopped service") })
	if onReg.Active() {
		t.Error("On after Stop returned an active registration")
	}

	// Inert handles stay safe to close.
	reg.Close()
	obs.Close()
	onReg.Close()

	svc.Broadcast()
	if svc.Generation() != 0 {
		t.Errorf("Generation() = %d on a stopped service, want 0", svc.Generation())
	}
}

func TestFromConfigWiring(t *testing.T) {
	t.Setenv(config.EnvBundleDir, "")
	dir := t.TempDir()

	path := filepath.Join(dir, ".rekindle.toml")
	body := `
[bundle]
dir = "` + filepath.Join(dir, "assets") + `"
manifest = "build.json"

[watch]
debounce_ms = 25
signal = ""
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	svc, err := FromConfig(path, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })

	if want := filepath.Join(dir, "assets", "build.json"); svc.opts.manifest != want {
		t.Errorf("manifest = %q, want %q", svc.opts.manifest, want)
	}
	if svc.opts.debounce != 25*time.Millisecond {
		t.Errorf("debounce = %v, want 25ms", svc.opts.debounce)
	}
	if svc.opts.signal != nil {
		t.Errorf("signal = %v, want disabled", svc.opts.signal)
	}

	// Explicit options override the file.
	svc2, err := FromConfig(path, WithLogger(zerolog.Nop()), WithDebounce(time.Second))
	if err != nil {
		t.Fatalf("FromConfig() with override error = %v", err)
	}
	t.Cleanup(func() { svc2.Stop(context.Background()) })
	if svc2.opts.debounce != time.Second {
		t.Errorf("debounce = %v, want overridden 1s", svc2.opts.debounce)
	}

	// A named signal maps through.
	sigPath := filepath.Join(dir, "sig.toml")
	if err := os.WriteFile(sigPath, []byte("[watch]\nsignal = \"USR1\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	svc3, err := FromConfig(sigPath, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	t.Cleanup(func() { svc3.Stop(context.Background()) })
	if svc3.opts.signal != syscall.SIGUSR1 {
		t.Errorf("signal = %v, want SIGUSR1", svc3.opts.signal)
	}
}
