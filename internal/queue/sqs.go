package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SQS tuning constants. The visibility timeout and retention period are
// fixed attributes applied when a queue is auto-created on first use; the
// receive parameters shape the long-poll loop.
const (
	sqsVisibilityTimeoutSeconds = 60
	sqsRetentionSeconds         = 4 * 24 * 60 * 60
	sqsMaxBatchSize             = 10
	sqsWaitTimeSeconds          = 20
	sqsErrorBackoff             = 5 * time.Second
)

// SQSBackend delivers messages through AWS SQS. Queues are created lazily
// on first use; the resolved queue URL is cached for the process lifetime
// and never invalidated (backend-side deletion after caching is out of
// scope). Consumption is an unbounded long-poll loop started at Subscribe
// time, relying on the visibility timeout for at-least-once redelivery of
// unacknowledged messages.
type SQSBackend struct {
	client sqsAPI
	log    zerolog.Logger

	mu   sync.RWMutex
	urls map[string]string
}

// NewSQSBackend creates an SQSBackend from the queue configuration.
func NewSQSBackend(cfg Config, log zerolog.Logger) (*SQSBackend, error) {
	client, err := newAWSSQSClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create sqs client: %w", err)
	}
	return newSQSBackend(client, log), nil
}

func newSQSBackend(client sqsAPI, log zerolog.Logger) *SQSBackend {
	return &SQSBackend{
		client: client,
		log:    log.With().Str("backend", "sqs").Logger(),
		urls:   make(map[string]string),
	}
}

// resolveQueueURL maps a queue name to its URL, creating the queue on first
// use. The create path tolerates concurrent first use: when CreateQueue
// fails because another caller won the race, the name is re-resolved and
// the race is invisible to both callers. Cache writes are idempotent (a
// name always maps to the same URL), so two callers both resolving then
// caching is harmless.
func (b *SQSBackend) resolveQueueURL(ctx context.Context, queueName string) (string, error) {
	b.mu.RLock()
	url, ok := b.urls[queueName]
	b.mu.RUnlock()
	if ok {
		return url, nil
	}

	url, err := b.client.GetQueueURL(ctx, queueName)
	if err == nil {
		b.cacheURL(queueName, url)
		return url, nil
	}
	if !isQueueMissing(err) {
		return "", err
	}

	b.log.Info().Str("queue", queueName).Msg("queue not found, creating")

	url, createErr := b.client.CreateQueue(ctx, queueName, map[string]string{
		"VisibilityTimeout":      fmt.Sprintf("%d", sqsVisibilityTimeoutSeconds),
		"MessageRetentionPeriod": fmt.Sprintf("%d", sqsRetentionSeconds),
	})
	if createErr == nil {
		b.cacheURL(queueName, url)
		return url, nil
	}
	if !isQueueExists(createErr) {
		return "", createErr
	}

	// Lost the creation race; whoever won already made the queue.
	url, err = b.client.GetQueueURL(ctx, queueName)
	if err != nil || url == "" {
		return "", createErr
	}
	b.cacheURL(queueName, url)
	return url, nil
}

func (b *SQSBackend) cacheURL(queueName, url string) {
	b.mu.Lock()
	b.urls[queueName] = url
	b.mu.Unlock()
}

// Publish resolves the queue URL, JSON-serializes the payload, and sends it.
func (b *SQSBackend) Publish(ctx context.Context, queueName string, payload any) error {
	url, err := b.resolveQueueURL(ctx, queueName)
	if err != nil {
		return &DeliveryError{Queue: queueName, Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Queue: queueName, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	if _, err := b.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:    url,
		MessageBody: string(body),
	}); err != nil {
		return &DeliveryError{Queue: queueName, Err: fmt.Errorf("sqs send message: %w", err)}
	}

	MessagesPublishedTotal.WithLabelValues("sqs").Inc()

	return nil
}

// Subscribe resolves the queue URL and launches a detached polling
// goroutine. The returned error reflects only resolution and launch, not
// any future delivery outcome; the loop runs until the process exits.
func (b *SQSBackend) Subscribe(ctx context.Context, queueName string, handler Handler) error {
	if handler == nil {
		return &SubscriptionError{Queue: queueName, Err: fmt.Errorf("nil handler")}
	}

	url, err := b.resolveQueueURL(ctx, queueName)
	if err != nil {
		return &SubscriptionError{Queue: queueName, Err: err}
	}

	go b.poll(ctx, queueName, url, handler)

	b.log.Info().Str("queue", queueName).Str("queue_url", url).Msg("sqs consumer started")

	return nil
}

// poll long-polls the queue forever. Transient timeouts are long-poll
// expiry noise and restart the loop immediately; any other receive error is
// logged and followed by a constant backoff.
func (b *SQSBackend) poll(ctx context.Context, queueName, url string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out, err := b.client.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            url,
			MaxNumberOfMessages: sqsMaxBatchSize,
			WaitTimeSeconds:     sqsWaitTimeSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isTransientTimeout(err) {
				PollErrorsTotal.WithLabelValues("sqs", "transient").Inc()
				continue
			}
			PollErrorsTotal.WithLabelValues("sqs", "other").Inc()
			b.log.Error().Err(err).Str("queue", queueName).Msg("sqs receive error")
			time.Sleep(sqsErrorBackoff)
			continue
		}

		for _, msg := range out.Messages {
			if msg.Body == "" || msg.ReceiptHandle == "" {
				continue
			}
			// Handlers run concurrently within a batch; the next poll
			// does not wait for them.
			go b.processMessage(ctx, queueName, url, msg, handler)
		}
	}
}

// processMessage parses one received message, invokes the handler, and
// deletes the message on handler success. A non-JSON body is delivered as a
// raw string rather than dropped. On handler failure nothing is deleted;
// the message reappears after its visibility timeout elapses.
func (b *SQSBackend) processMessage(ctx context.Context, queueName, url string, msg sqsReceivedMessage, handler Handler) {
	var payload any
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		payload = msg.Body
	}

	start := time.Now()
	err := handler(ctx, payload)
	HandlerDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		MessagesDeliveredTotal.WithLabelValues("sqs", "failed").Inc()
		b.log.Error().Err(err).
			Str("queue", queueName).
			Str("sqs_message_id", msg.MessageID).
			Msg("handler failed, message left for redelivery")
		return
	}

	MessagesDeliveredTotal.WithLabelValues("sqs", "ok").Inc()

	if err := b.client.DeleteMessage(ctx, &sqsDeleteInput{
		QueueURL:      url,
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		// The message will be redelivered; not fatal.
		b.log.Error().Err(err).
			Str("queue", queueName).
			Str("sqs_message_id", msg.MessageID).
			Msg("failed to delete sqs message")
	}
}

// Close never fails; the SDK client needs no explicit teardown and running
// poll loops are only stopped by process exit.
func (b *SQSBackend) Close(_ context.Context) error {
	return nil
}
