// Package rekindle reloads parts of a running terminal program when its
// code bundle is rebuilt, without restarting the process.
//
// An external builder produces a bundle (Lua chunks plus a JSON manifest)
// and stamps the manifest when it finishes. A Service watches for the stamp
// or for a SIGUSR2 from the builder, reloads the bundle, and fans the
// reload out to registered callbacks so each rebuilds its piece of the UI:
//
//	svc, err := rekindle.New(rekindle.WithManifest("bundle/bundle.json"))
//	if err != nil {
//		return err
//	}
//	w := newSidebar()
//	rekindle.On(svc, w, func(w *sidebar) { w.rebuild() })
//
// Registration is development-time plumbing and behaves like it: owners are
// captured weakly and skipped once collected, a panicking callback is
// recovered, and delivery failures are silent. The service holds no global
// state; construct one and pass it where it is needed.
//
// The machinery compiles in only under the live build tag:
//
//	go build -tags live .
//
// Without the tag the same API is inert: Enable and On return their
// arguments untouched, nothing is watched, and no callback ever fires.
// Release builds carry the types and none of the behavior.
package rekindle
