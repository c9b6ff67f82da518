package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/rekindle/internal/manifest"
)

// ManifestSource watches a bundle manifest and emits a signal whenever the
// build counter changes. It watches the manifest's directory rather than the
// file itself so atomic rename-into-place writes are seen.
type ManifestSource struct {
	mu sync.Mutex

	path string // absolute manifest path
	name string // manifest base name

	config  Config
	watcher *fsnotify.Watcher

	signals chan Signal
	errs    chan error

	// fireCh wakes the process loop when the debounce window elapses, so
	// every channel send happens on the loop goroutine.
	fireCh chan struct{}

	// lastBuild is the counter value already announced. Rewrites that leave
	// the counter unchanged are spurious and dropped.
	lastBuild uint64

	pending *time.Timer

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewManifest creates a manifest source for the manifest at path and starts
// watching immediately. The manifest file may not exist yet; its directory
// must.
func NewManifest(path string, opts ...Option) (*ManifestSource, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(absPath)

	if info, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotExist, dir)
		}
		return nil, err
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrPathNotExist, dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	bufSize := config.BufferSize
	if bufSize <= 0 {
		bufSize = 16
	}

	s := &ManifestSource{
		path:    absPath,
		name:    filepath.Base(absPath),
		config:  config,
		watcher: fsw,
		signals: make(chan Signal, bufSize),
		errs:    make(chan error, bufSize),
		fireCh:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}

	// Baseline the counter so a manifest that predates the watch does not
	// fire on the first unrelated directory event.
	if m, err := manifest.Load(absPath); err == nil {
		s.lastBuild = m.Build
	}

	s.wg.Add(1)
	go s.processLoop()

	return s, nil
}

// Signals returns the signal channel.
func (s *ManifestSource) Signals() <-chan Signal {
	return s.signals
}

// Errors returns the error channel.
func (s *ManifestSource) Errors() <-chan error {
	return s.errs
}

// Path returns the absolute manifest path being watched.
func (s *ManifestSource) Path() string {
	return s.path
}

// Close stops the source.
func (s *ManifestSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	close(s.closeCh)
	s.mu.Unlock()

	err := s.watcher.Close()
	s.wg.Wait()

	close(s.signals)
	close(s.errs)
	return err
}

// Flush delivers any pending debounced signal immediately.
func (s *ManifestSource) Flush() {
	s.mu.Lock()
	fire := s.pending != nil && s.pending.Stop()
	s.pending = nil
	s.mu.Unlock()

	if fire {
		s.wake()
	}
}

// processLoop handles incoming fsnotify events. All signal and error sends
// happen here; Close waits for the loop before closing the channels.
func (s *ManifestSource) processLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closeCh:
			return

		case <-s.fireCh:
			s.fire()

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleFSEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendError(err)
		}
	}
}

// handleFSEvent filters directory noise down to manifest rewrites and arms
// the debounce timer.
func (s *ManifestSource) handleFSEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != s.name {
		return
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	// Coalesce: a burst of writes resets the window and yields one signal.
	if s.pending != nil {
		s.pending.Reset(s.config.Debounce)
		return
	}
	s.pending = time.AfterFunc(s.config.Debounce, func() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		s.wake()
	})
}

// wake nudges the process loop to fire.
func (s *ManifestSource) wake() {
	select {
	case s.fireCh <- struct{}{}:
	default:
	}
}

// fire reads the manifest and emits a signal if the build counter moved.
func (s *ManifestSource) fire() {
	m, err := manifest.Load(s.path)
	if err != nil {
		// A missing or malformed manifest is not a reload announcement.
		s.sendError(err)
		return
	}

	s.mu.Lock()
	if m.Build == s.lastBuild {
		s.mu.Unlock()
		return
	}
	s.lastBuild = m.Build
	s.mu.Unlock()

	s.sendSignal(Signal{
		Cause: CauseManifest,
		Path:  s.path,
		Build: m.Build,
		At:    time.Now(),
	})
}

// sendSignal sends a signal without blocking the loop.
func (s *ManifestSource) sendSignal(sig Signal) {
	select {
	case s.signals <- sig:
	default:
		// Channel full, drop signal. The next stamp will fire again.
	}
}

// sendError sends an error without blocking the loop.
func (s *ManifestSource) sendError(err error) {
	select {
	case s.errs <- err:
	default:
		// Channel full, drop error
	}
}

// Ensure ManifestSource implements Source.
var _ Source = (*ManifestSource)(nil)
