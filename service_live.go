//go:build live

package rekindle

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/rekindle/internal/fanout"
	"github.com/dshills/rekindle/internal/logging"
	"github.com/dshills/rekindle/internal/source"
)

// Service fans bundle-reload announcements out to registered callbacks. It
// is constructed unarmed; the first Arm (or the first registration) starts
// the signal sources and the run loop. The state machine is one-way:
// unarmed, armed, stopped.
type Service struct {
	opts options
	log  zerolog.Logger

	dispatch *fanout.Dispatcher

	transMu    sync.RWMutex
	transition Transition

	// cycleMu serializes reload cycles between the run loop and manual
	// Broadcast calls.
	cycleMu sync.Mutex

	mu      sync.Mutex
	sources []source.Source

	armed   atomic.Bool
	stopped atomic.Bool
	sigCh   chan source.Signal
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds an unarmed service. It returns an error only for option
// mistakes: a negative debounce or a reload signal outside SIGUSR1/SIGUSR2.
func New(opts ...Option) (*Service, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &Service{
		opts:       o,
		log:        resolveLogger(o),
		transition: o.transition,
		sigCh:      make(chan source.Signal, 16),
		stopCh:     make(chan struct{}),
	}
	s.dispatch = fanout.NewDispatcher(fanout.WithPanicHandler(s.logPanic))
	return s, nil
}

func resolveLogger(o options) zerolog.Logger {
	switch {
	case o.loggerSet:
		return o.logger
	case o.logLevel != "" || o.logFile != "":
		// Environment settings override the config file's.
		level, file := o.logLevel, o.logFile
		if v := os.Getenv(logging.EnvLevel); v != "" {
			level = v
		}
		if v := os.Getenv(logging.EnvFile); v != "" {
			file = v
		}
		return logging.FromConfig("rekindle", level, file)
	default:
		return logging.FromEnv("rekindle")
	}
}

// Arm starts the signal sources and the run loop. The first call wins;
// repeats are no-ops. A missing bundle directory does not fail Arm: the
// manifest source reports itself unavailable, the service logs one debug
// line and stays inert on that source.
func (s *Service) Arm() {
	if !s.armed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	// Checked under mu, which orders arming against Stop's source close:
	// a concurrent Stop sees either no sources or every source and
	// goroutine this block creates.
	if s.stopped.Load() {
		s.mu.Unlock()
		return
	}
	if s.opts.manifest != "" {
		src, err := source.NewManifest(s.opts.manifest, source.WithDebounce(s.opts.debounce))
		if err != nil {
			s.log.Debug().Err(err).Str("manifest", s.opts.manifest).Msg("bundle source unavailable")
		} else {
			s.sources = append(s.sources, src)
		}
	}
	if s.opts.signal != nil {
		s.sources = append(s.sources, source.NewSignal(source.WithSignals(s.opts.signal)))
	}

	for _, src := range s.sources {
		s.wg.Add(1)
		go s.forward(src)
	}
	s.wg.Add(1)
	go s.run()

	active := len(s.sources)
	s.mu.Unlock()

	s.log.Debug().Int("sources", active).Msg("armed")
}

// Stop closes the sources and waits for the run loop and any in-flight
// reload cycle to drain, bounded by ctx. A nil return means the service is
// quiescent; ctx expiring means teardown is still in flight. Stop is
// idempotent and terminal; a stopped service cannot be re-armed.
func (s *Service) Stop(ctx context.Context) error {
	if s.stopped.Swap(true) {
		return nil
	}
	close(s.stopCh)

	s.mu.Lock()
	for _, src := range s.sources {
		if err := src.Close(); err != nil {
			s.log.Debug().Err(err).Msg("source close")
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		// A manual Broadcast runs outside the WaitGroup; entering cycleMu
		// proves no cycle is still delivering.
		s.cycleMu.Lock()
		defer s.cycleMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	st := s.dispatch.Stats()
	s.log.Debug().
		Uint64("generation", st.Generation).
		Uint64("delivered", st.Delivered).
		Uint64("dead_skipped", st.SkippedDead).
		Uint64("panics", st.Panics).
		Msg("stopped")
	return nil
}

// OnReload registers a plain callback that runs on every reload, in
// registration order. Registering arms the service. The callback stays
// registered until the returned registration is closed. A stopped service
// hands back an inert registration.
func (s *Service) OnReload(fn func()) *Registration {
	if fn == nil || s.stopped.Load() {
		return inertRegistration()
	}
	reg, err := s.dispatch.Register(func() bool {
		fn()
		return true
	})
	if err != nil {
		return inertRegistration()
	}
	s.Arm()
	return &Registration{inner: reg}
}

// OnChange registers a generation observer. Observers run after the
// callback pass of each reload and see consecutive generation values.
// Registering arms the service. A stopped service hands back an inert
// registration.
func (s *Service) OnChange(fn func(uint64)) *Registration {
	if fn == nil || s.stopped.Load() {
		return inertRegistration()
	}
	reg, err := s.dispatch.OnChange(func(gen uint64) bool {
		fn(gen)
		return true
	})
	if err != nil {
		return inertRegistration()
	}
	s.Arm()
	return &Registration{inner: reg}
}

// Generation returns the number of reloads delivered since construction.
func (s *Service) Generation() uint64 {
	return s.dispatch.Generation()
}

// Changes returns a conflating channel of generation values for select-loop
// consumers: a slow reader observes the latest generation, intermediate
// values may be skipped. The channel supports a single consumer. Asking for
// it arms the service.
func (s *Service) Changes() <-chan uint64 {
	s.Arm()
	return s.dispatch.Changes()
}

// SetTransition replaces the batch transition. Nil restores unwrapped
// synchronous delivery. The change applies from the next reload.
func (s *Service) SetTransition(t Transition) {
	s.transMu.Lock()
	s.transition = t
	s.transMu.Unlock()
}

// Broadcast runs one reload cycle by hand, as if a source had fired. It
// shares the run loop's serialization and the full delivery path: bundle
// load first, then the wrapped fan-out. Broadcast is non-reentrant; calling
// it from inside a reload callback deadlocks.
func (s *Service) Broadcast() {
	if s.stopped.Load() {
		return
	}
	s.cycle(source.Signal{Cause: source.CauseManual, At: time.Now()})
}

// forward copies one source's signals into the shared run-loop channel and
// logs its errors.
func (s *Service) forward(src source.Source) {
	defer s.wg.Done()

	sigs, errs := src.Signals(), src.Errors()
	for sigs != nil || errs != nil {
		select {
		case <-s.stopCh:
			return
		case sig, ok := <-sigs:
			if !ok {
				sigs = nil
				continue
			}
			select {
			case s.sigCh <- sig:
			case <-s.stopCh:
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.log.Warn().Err(err).Msg("reload source error")
		}
	}
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case sig := <-s.sigCh:
			s.log.Debug().
				Stringer("cause", sig.Cause).
				Uint64("build", sig.Build).
				Msg("reload signal")
			s.cycle(sig)
		}
	}
}

// cycle performs one reload pass: bundle load, then the fan-out batch,
// wrapped in the transition when one is set and routed through the post
// hook when one is configured. A failed load suppresses the fan-out;
// callbacks never rebuild against stale definitions.
func (s *Service) cycle(sig source.Signal) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	// Re-checked under cycleMu: a pass that raced Stop past the Broadcast
	// gate must not deliver after Stop has drained.
	if s.stopped.Load() {
		return
	}

	if l := s.opts.loader; l != nil {
		if err := l.Reload(); err != nil {
			s.log.Error().Err(err).Stringer("cause", sig.Cause).Msg("bundle load failed, fan-out suppressed")
			return
		}
	}

	batch := func() {
		res := s.dispatch.Broadcast()
		s.log.Debug().
			Uint64("generation", res.Generation).
			Int("delivered", res.Delivered).
			Int("dead_skipped", res.Skipped).
			Int("panicked", res.Panicked).
			Msg("reload delivered")
	}

	run := batch
	if t := s.currentTransition(); t != nil {
		run = func() { t.Wrap(batch) }
	}

	if s.opts.post != nil {
		s.opts.post(run)
		return
	}
	run()
}

func (s *Service) currentTransition() Transition {
	s.transMu.RLock()
	defer s.transMu.RUnlock()
	return s.transition
}

func (s *Service) logPanic(token string, value any, stack []byte) {
	s.log.Error().
		Str("registration", token).
		Interface("panic", value).
		Bytes("stack", stack).
		Msg("reload callback panicked")
}

// Registration is a handle to one registered callback. Closing it is
// idempotent; a closed registration never fires again. Closing during a
// fan-out takes effect on the next pass.
type Registration struct {
	inner *fanout.Registration
}

// Active reports whether the registration can still receive reloads.
func (r *Registration) Active() bool {
	return r != nil && r.inner != nil && r.inner.Active()
}

// Close removes the registration. Safe on a nil receiver and safe to call
// more than once.
func (r *Registration) Close() {
	if r == nil {
		return
	}
	r.inner.Close()
}

// inertRegistration is handed out for registrations that never took:
// closed from birth, safe to Close.
func inertRegistration() *Registration {
	return &Registration{}
}
