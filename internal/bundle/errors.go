package bundle

import "errors"

// Sentinel errors for bundle operations.
var (
	// ErrRuntimeClosed is returned when operations are attempted on a
	// closed runtime.
	ErrRuntimeClosed = errors.New("bundle runtime is closed")

	// ErrBundleClosed is returned when calling into a bundle that has been
	// replaced by a newer load.
	ErrBundleClosed = errors.New("bundle is closed")
)
