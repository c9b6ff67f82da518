package fanout

import "errors"

// ErrNilCallback is returned when a nil callback is registered.
var ErrNilCallback = errors.New("callback cannot be nil")
