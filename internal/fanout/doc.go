// Package fanout implements the ordered reload dispatcher.
//
// The dispatcher keeps a side table of registrations, each holding a
// callback and a unique token. A broadcast walks the table in registration
// order and invokes every live callback; callbacks whose owner has been
// collected report themselves dead and are dropped from the table during
// the same pass. A callback that panics is recovered and counted, and the
// pass continues with the next registration.
//
// Every broadcast bumps a generation counter. Generation observers run
// after the callback pass, and the latest generation is also published on
// a conflating channel for select-based consumers; intermediate values may
// be skipped but the final value is always observable.
//
// Broadcast passes are serialized. Registering or closing registrations is
// safe from any goroutine, including from inside a callback; calling
// Broadcast from inside a callback is not.
package fanout
