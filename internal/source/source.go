// Package source provides reload signal sources.
//
// A source watches for the external "bundle rebuilt" announcement and turns
// it into Signal values on a channel. The manifest source watches the bundle
// manifest with fsnotify and debounces rapid rewrites; the process signal
// source listens for a POSIX signal so builders without file access can poke
// the process directly.
package source

import (
	"errors"
	"os"
	"syscall"
	"time"
)

// Common errors returned by source operations.
var (
	ErrClosed       = errors.New("source is closed")
	ErrPathNotExist = errors.New("path does not exist")
)

// Cause identifies what produced a reload signal.
type Cause uint8

const (
	// CauseManifest means the bundle manifest was restamped on disk.
	CauseManifest Cause = iota + 1
	// CauseProcSignal means the process received a reload signal.
	CauseProcSignal
	// CauseManual means the host program asked for a reload directly.
	CauseManual
)

// String returns a human-readable representation of the cause.
func (c Cause) String() string {
	switch c {
	case CauseManifest:
		return "manifest"
	case CauseProcSignal:
		return "signal"
	case CauseManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Signal is one reload announcement.
type Signal struct {
	// Cause is what produced the signal.
	Cause Cause

	// Path is the manifest path for manifest signals, empty otherwise.
	Path string

	// Build is the manifest build counter, zero when unknown.
	Build uint64

	// At is when the signal was observed.
	At time.Time
}

// Source emits reload signals until closed.
type Source interface {
	// Signals returns the channel of reload signals.
	// The channel is closed when the source is closed.
	Signals() <-chan Signal

	// Errors returns the channel of source errors.
	// The channel is closed when the source is closed.
	Errors() <-chan error

	// Close stops the source and releases resources.
	Close() error
}

// Config holds source configuration options.
type Config struct {
	// Debounce is the quiet window before a manifest change is delivered.
	// Writes within the window are coalesced into one signal.
	// Default: 100ms
	Debounce time.Duration

	// BufferSize is the size of the signal and error channels.
	// Default: 16
	BufferSize int

	// Signals are the process signals that trigger a reload.
	// Default: SIGUSR2
	Signals []os.Signal
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:   100 * time.Millisecond,
		BufferSize: 16,
		Signals:    []os.Signal{syscall.SIGUSR2},
	}
}

// Option configures a source.
type Option func(*Config)

// WithDebounce sets the manifest debounce window.
func WithDebounce(d time.Duration) Option {
	return func(c *Config) {
		c.Debounce = d
	}
}

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(c *Config) {
		c.BufferSize = size
	}
}

// WithSignals sets the process signals that trigger a reload.
func WithSignals(sigs ...os.Signal) Option {
	return func(c *Config) {
		c.Signals = sigs
	}
}
