//go:build !live

package rekindle

// On does nothing without the live build tag; fn is discarded and never
// runs.
func On[T any](s *Service, owner *T, fn func(*T)) *Registration {
	return &Registration{}
}

// Enable returns owner unchanged. Without the live build tag it has no
// other effect.
func Enable[T any](s *Service, owner *T) *T {
	return owner
}

// NewHost builds the value once. Without the live build tag it never
// rebuilds.
func NewHost[T any](s *Service, build func() T) (*Host[T], error) {
	if build == nil {
		return nil, ErrNilBuilder
	}
	return &Host[T]{value: build()}, nil
}
