package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryBackend is an in-process fan-out broker. A "queue" is purely a map
// key; every registered handler receives every published message (multicast,
// not competing consumers). Nothing is persisted and nothing survives a
// restart.
type MemoryBackend struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      zerolog.Logger
}

// NewMemoryBackend creates an empty in-process broker.
func NewMemoryBackend(log zerolog.Logger) *MemoryBackend {
	return &MemoryBackend{
		handlers: make(map[string][]Handler),
		log:      log.With().Str("backend", "memory").Logger(),
	}
}

// Publish dispatches payload to every handler registered for the queue.
// Handlers run in their own goroutines in registration order; a handler
// error or panic is logged and isolated, never failing the publish nor
// affecting sibling handlers. Publishing to a queue with no handlers fails
// with ErrNoSubscribers: there is no buffering to fall back on.
func (m *MemoryBackend) Publish(ctx context.Context, queueName string, payload any) error {
	m.mu.RLock()
	handlers := m.handlers[queueName]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return &DeliveryError{Queue: queueName, Err: ErrNoSubscribers}
	}

	for _, h := range handlers {
		go m.dispatch(ctx, queueName, h, payload)
	}

	MessagesPublishedTotal.WithLabelValues("memory").Inc()

	return nil
}

// dispatch invokes a single handler, absorbing errors and panics.
func (m *MemoryBackend) dispatch(ctx context.Context, queueName string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("queue", queueName).
				Interface("panic", r).
				Msg("handler panicked")
			MessagesDeliveredTotal.WithLabelValues("memory", "failed").Inc()
		}
	}()

	if err := h(ctx, payload); err != nil {
		m.log.Error().Err(err).Str("queue", queueName).Msg("handler failed")
		MessagesDeliveredTotal.WithLabelValues("memory", "failed").Inc()
		return
	}
	MessagesDeliveredTotal.WithLabelValues("memory", "ok").Inc()
}

// Subscribe appends handler to the queue's handler list. It never fails.
func (m *MemoryBackend) Subscribe(_ context.Context, queueName string, handler Handler) error {
	if handler == nil {
		return &SubscriptionError{Queue: queueName, Err: fmt.Errorf("nil handler")}
	}

	m.mu.Lock()
	m.handlers[queueName] = append(m.handlers[queueName], handler)
	m.mu.Unlock()

	m.log.Info().Str("queue", queueName).Msg("handler registered")

	return nil
}

// Close is a no-op; the broker holds no external resources.
func (m *MemoryBackend) Close(_ context.Context) error {
	return nil
}
