package rekindle

import "errors"

var (
	// ErrNilBuilder reports a nil builder passed to NewHost.
	ErrNilBuilder = errors.New("rekindle: nil host builder")

	// ErrUnsupportedSignal reports a reload signal other than SIGUSR1 or
	// SIGUSR2. Reload must never hijack termination signals.
	ErrUnsupportedSignal = errors.New("rekindle: unsupported reload signal")
)
