//go:build !live

package rekindle

import "context"

// Service is the inert variant compiled without the live build tag. Every
// operation is a no-op; release builds carry none of the reload machinery.
type Service struct{}

// New validates opts and returns an inert service. Validation matches the
// live build so option mistakes surface regardless of tags.
func New(opts ...Option) (*Service, error) {
	if _, err := buildOptions(opts); err != nil {
		return nil, err
	}
	return &Service{}, nil
}

// Arm does nothing.
func (s *Service) Arm() {}

// Stop does nothing and returns nil.
func (s *Service) Stop(ctx context.Context) error { return nil }

// OnReload discards fn and returns an inert registration.
func (s *Service) OnReload(fn func()) *Registration { return &Registration{} }

// OnChange discards fn and returns an inert registration.
func (s *Service) OnChange(fn func(uint64)) *Registration { return &Registration{} }

// Generation always reports zero.
func (s *Service) Generation() uint64 { return 0 }

// Changes returns a nil channel, which never delivers; a select case on it
// simply never fires.
func (s *Service) Changes() <-chan uint64 { return nil }

// SetTransition does nothing.
func (s *Service) SetTransition(t Transition) {}

// Broadcast does nothing.
func (s *Service) Broadcast() {}

// Registration is the inert handle returned by the no-op build.
type Registration struct{}

// Active always reports false.
func (r *Registration) Active() bool { return false }

// Close does nothing.
func (r *Registration) Close() {}
