package rekindle

// Loader replaces the running bundle. The service calls Reload before each
// fan-out so callbacks rebuild against the new definitions. A Reload error
// suppresses that fan-out.
//
// bundle.Runtime implements Loader.
type Loader interface {
	Reload() error
}
