// Package queue provides a uniform publish/subscribe abstraction over
// interchangeable message-queue backends: an in-process memory broker,
// RabbitMQ, and AWS SQS. The backend is selected once at startup via
// NewBackend and fixed for the process lifetime.
package queue

import (
	"context"
	"errors"
)

// Handler processes a single message delivered on a queue. The payload is
// the value the publisher supplied: for the memory backend it is passed
// through unchanged; for the durable backends it is the JSON-decoded body,
// or the raw body string when the body is not valid JSON.
type Handler func(ctx context.Context, payload any) error

// Backend is the common contract every queue transport implements.
//
// Neither operation is idempotent in effect (each Publish creates a new
// delivery, each Subscribe a new independent consumer), but queue creation
// itself is: concurrent first use of the same name never produces duplicate
// queues or spurious errors.
type Backend interface {
	// Publish delivers payload to the named queue. It returns only after
	// the backend has handed the message to its transport (durable
	// backends) or to all currently registered handlers (memory backend).
	// Failures are reported as *DeliveryError.
	Publish(ctx context.Context, queueName string, payload any) error

	// Subscribe registers handler to be invoked for every future message
	// on the named queue. It returns once consumption setup succeeds;
	// delivery happens out-of-band, asynchronously, for the lifetime of
	// the process. Failures are reported as *SubscriptionError.
	Subscribe(ctx context.Context, queueName string, handler Handler) error

	// Close releases transport resources. It is best-effort and called
	// once during graceful shutdown; running consumption loops are not
	// signalled to stop.
	Close(ctx context.Context) error
}

// ErrNoSubscribers is returned (wrapped in a *DeliveryError) by the memory
// backend when a message is published to a queue with no registered
// handlers. There is no durability in process memory, so such a publish is
// terminal rather than buffered.
var ErrNoSubscribers = errors.New("no subscribers registered for queue")

// DeliveryError reports a failed publish.
type DeliveryError struct {
	Queue string
	Err   error
}

func (e *DeliveryError) Error() string {
	return "publish to queue " + e.Queue + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// SubscriptionError reports a failed subscription setup. Delivery failures
// after setup are logged by the backend, never surfaced through this type.
type SubscriptionError struct {
	Queue string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return "subscribe to queue " + e.Queue + ": " + e.Err.Error()
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
