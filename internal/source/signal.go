package source

import (
	"os"
	"os/signal"
	"sync"
	"time"
)

// SignalSource emits a reload signal when the process receives one of the
// configured POSIX signals (SIGUSR2 by default). It lets a builder that
// cannot touch the bundle directory announce a rebuild with plain kill(1).
type SignalSource struct {
	mu sync.Mutex

	sigCh   chan os.Signal
	signals chan Signal
	errs    chan error

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewSignal creates a signal source and starts listening immediately.
func NewSignal(opts ...Option) *SignalSource {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	bufSize := config.BufferSize
	if bufSize <= 0 {
		bufSize = 16
	}

	s := &SignalSource{
		sigCh:   make(chan os.Signal, 1),
		signals: make(chan Signal, bufSize),
		errs:    make(chan error),
		closeCh: make(chan struct{}),
	}

	signal.Notify(s.sigCh, config.Signals...)

	s.wg.Add(1)
	go s.processLoop()

	return s
}

// Signals returns the signal channel.
func (s *SignalSource) Signals() <-chan Signal {
	return s.signals
}

// Errors returns the error channel. Signal delivery cannot fail, so the
// channel never carries a value; it is closed when the source is closed.
func (s *SignalSource) Errors() <-chan error {
	return s.errs
}

// Close stops the source and unregisters the signal handler.
func (s *SignalSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()

	signal.Stop(s.sigCh)
	s.wg.Wait()

	close(s.signals)
	close(s.errs)
	return nil
}

func (s *SignalSource) processLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closeCh:
			return

		case <-s.sigCh:
			select {
			case s.signals <- Signal{Cause: CauseProcSignal, At: time.Now()}:
			default:
				// Channel full, drop. The receiver is already behind on
				// reloads; another one queued up would not help.
			}
		}
	}
}

// Ensure SignalSource implements Source.
var _ Source = (*SignalSource)(nil)
