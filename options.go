package rekindle

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// defaultDebounce is the manifest debounce window when none is configured.
const defaultDebounce = 100 * time.Millisecond

type options struct {
	logger    zerolog.Logger
	loggerSet bool

	// logLevel and logFile carry config-file log settings; the live build
	// turns them into a logger, the inert build ignores them.
	logLevel string
	logFile  string

	manifest   string
	debounce   time.Duration
	signal     os.Signal
	post       func(func())
	loader     Loader
	transition Transition
}

// Option configures a Service.
type Option func(*options)

func defaultOptions() options {
	return options{
		debounce: defaultDebounce,
		signal:   syscall.SIGUSR2,
	}
}

func buildOptions(opts []Option) (options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if o.debounce < 0 {
		return options{}, fmt.Errorf("rekindle: debounce cannot be negative, got %v", o.debounce)
	}
	if o.signal != nil && o.signal != syscall.SIGUSR1 && o.signal != syscall.SIGUSR2 {
		return options{}, fmt.Errorf("%w: %v", ErrUnsupportedSignal, o.signal)
	}
	return o, nil
}

// WithLogger routes service logs to l. The default logger honors the
// REKINDLE_LOG_* environment variables and is otherwise silent, since hosts
// usually own the terminal.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
		o.loggerSet = true
	}
}

// WithManifest watches the bundle manifest at path for build stamps.
// Without it the service listens only for the process signal.
func WithManifest(path string) Option {
	return func(o *options) { o.manifest = path }
}

// WithDebounce sets the manifest debounce window. Rapid successive stamps
// inside one window coalesce into a single reload.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithSignal sets the process signal that triggers a reload. Only SIGUSR1
// and SIGUSR2 are accepted; nil disables the signal source. The default is
// SIGUSR2.
func WithSignal(sig os.Signal) Option {
	return func(o *options) { o.signal = sig }
}

// WithPost routes every delivery batch through post, typically a function
// that schedules work onto the UI event loop. With it, callback invocation
// is single-threaded with respect to UI mutation.
func WithPost(post func(func())) Option {
	return func(o *options) { o.post = post }
}

// WithLoader reloads the bundle through l before each fan-out. A load error
// suppresses that fan-out; callbacks never rebuild against stale
// definitions.
func WithLoader(l Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithTransition wraps each delivery batch in t. See Service.SetTransition.
func WithTransition(t Transition) Option {
	return func(o *options) { o.transition = t }
}

// withLogSettings carries config-file log settings into the service.
func withLogSettings(level, file string) Option {
	return func(o *options) {
		o.logLevel = level
		o.logFile = file
	}
}
