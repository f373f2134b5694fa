package queue

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the thin facade the rest of the application talks to. It
// forwards publish/subscribe calls to the selected backend and supplies the
// default handler used by subscriptions registered without one.
type Service struct {
	backend Backend
	log     zerolog.Logger
}

// NewService wraps the selected backend.
func NewService(backend Backend, log zerolog.Logger) *Service {
	return &Service{backend: backend, log: log}
}

// Publish forwards to the backend.
func (s *Service) Publish(ctx context.Context, queueName string, payload any) error {
	return s.backend.Publish(ctx, queueName, payload)
}

// Subscribe forwards to the backend, substituting the default logging
// handler when handler is nil.
func (s *Service) Subscribe(ctx context.Context, queueName string, handler Handler) error {
	if handler == nil {
		handler = s.defaultHandler(queueName)
	}
	return s.backend.Subscribe(ctx, queueName, handler)
}

// Close forwards to the backend.
func (s *Service) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}

// defaultHandler logs each received message and always succeeds, so
// deliveries are acknowledged.
func (s *Service) defaultHandler(queueName string) Handler {
	return func(_ context.Context, payload any) error {
		s.log.Info().
			Str("queue", queueName).
			Interface("payload", payload).
			Msg("message received")
		return nil
	}
}
