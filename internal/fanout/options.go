package fanout

// PanicHandler is called when a callback panics during a broadcast.
// The pass continues with the next registration.
type PanicHandler func(token string, value any, stack []byte)

// config holds dispatcher configuration.
type config struct {
	panicHandler PanicHandler
	changeBuffer int
}

func defaultConfig() config {
	return config{
		// A buffer of one with conflation keeps only the latest generation,
		// which is all a reload counter needs.
		changeBuffer: 1,
	}
}

// Option configures a Dispatcher.
type Option func(*config)

// WithPanicHandler sets the handler invoked when a callback panics.
func WithPanicHandler(h PanicHandler) Option {
	return func(c *config) {
		c.panicHandler = h
	}
}

// WithChangeBuffer sets the capacity of the generation change channel.
// Values below one are treated as one.
func WithChangeBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.changeBuffer = n
		}
	}
}
