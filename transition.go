package rekindle

// Transition wraps one delivery batch, the terminal analog of an animation
// transaction. The generation bump and every callback of the batch run
// inside apply; Wrap must call apply exactly once.
type Transition interface {
	Wrap(apply func())
}

// TransitionFunc adapts a plain function to the Transition interface.
type TransitionFunc func(apply func())

// Wrap calls f.
func (f TransitionFunc) Wrap(apply func()) { f(apply) }
