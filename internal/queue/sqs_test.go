package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// mockSQSClient implements sqsAPI for testing. Behavior is scripted through
// the function fields; calls and side effects are recorded under the mutex.
type mockSQSClient struct {
	mu sync.Mutex

	getQueueURLFn func(name string) (string, error)
	createQueueFn func(name string, attrs map[string]string) (string, error)
	receiveFn     func(call int) (*sqsReceiveOutput, error)

	sendErr error
	sent    []sqsSendInput
	deleted []sqsDeleteInput

	getCalls     int
	createCalls  int
	receiveCalls int
	createAttrs  map[string]string
}

func (m *mockSQSClient) GetQueueURL(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getQueueURLFn == nil {
		return "", &types.QueueDoesNotExist{}
	}
	return m.getQueueURLFn(name)
}

func (m *mockSQSClient) CreateQueue(_ context.Context, name string, attrs map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.createAttrs = attrs
	if m.createQueueFn == nil {
		return "https://sqs.test/" + name, nil
	}
	return m.createQueueFn(name, attrs)
}

func (m *mockSQSClient) SendMessage(_ context.Context, input *sqsSendInput) (*sqsSendOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, *input)
	return &sqsSendOutput{MessageID: "mock-msg-id"}, nil
}

func (m *mockSQSClient) ReceiveMessage(_ context.Context, _ *sqsReceiveInput) (*sqsReceiveOutput, error) {
	m.mu.Lock()
	m.receiveCalls++
	call := m.receiveCalls
	fn := m.receiveFn
	m.mu.Unlock()
	if fn == nil {
		return &sqsReceiveOutput{}, nil
	}
	return fn(call)
}

func (m *mockSQSClient) DeleteMessage(_ context.Context, input *sqsDeleteInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, *input)
	return nil
}

func (m *mockSQSClient) getSent() []sqsSendInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sqsSendInput, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockSQSClient) getDeleted() []sqsDeleteInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sqsDeleteInput, len(m.deleted))
	copy(out, m.deleted)
	return out
}

func (m *mockSQSClient) counts() (get, create int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls, m.createCalls
}

func TestSQSBackend_ResolveCreatesMissingQueue(t *testing.T) {
	t.Parallel()

	mock := &mockSQSClient{}
	b := newSQSBackend(mock, testLogger())

	url, err := b.resolveQueueURL(context.Background(), "orders")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if url != "https://sqs.test/orders" {
		t.Errorf("unexpected url: %s", url)
	}

	if mock.createAttrs["VisibilityTimeout"] != "60" {
		t.Errorf("expected visibility timeout 60, got %q", mock.createAttrs["VisibilityTimeout"])
	}
	if mock.createAttrs["MessageRetentionPeriod"] != "345600" {
		t.Errorf("expected retention 345600, got %q", mock.createAttrs["MessageRetentionPeriod"])
	}

	// Second resolution must be served from the cache.
	if _, err := b.resolveQueueURL(context.Background(), "orders"); err != nil {
		t.Fatalf("cached resolve failed: %v", err)
	}
	get, create := mock.counts()
	if get != 1 || create != 1 {
		t.Errorf("expected 1 get and 1 create, got %d and %d", get, create)
	}
}

func TestSQSBackend_ResolveRecoversFromCreationRace(t *testing.T) {
	t.Parallel()

	// First GetQueueURL misses, CreateQueue loses the race, the retry
	// GetQueueURL finds the queue the winner created.
	mock := &mockSQSClient{}
	mock.getQueueURLFn = func(name string) (string, error) {
		if mock.getCalls == 1 {
			return "", &types.QueueDoesNotExist{}
		}
		return "https://sqs.test/" + name, nil
	}
	mock.createQueueFn = func(name string, _ map[string]string) (string, error) {
		return "", &types.QueueNameExists{}
	}

	b := newSQSBackend(mock, testLogger())

	url, err := b.resolveQueueURL(context.Background(), "orders")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if url != "https://sqs.test/orders" {
		t.Errorf("unexpected url: %s", url)
	}
	get, create := mock.counts()
	if get != 2 || create != 1 {
		t.Errorf("expected 2 gets and 1 create, got %d and %d", get, create)
	}
}

func TestSQSBackend_ResolveRacePropagatesWhenRetryMisses(t *testing.T) {
	t.Parallel()

	createErr := errors.New("a queue with that name already exists")
	mock := &mockSQSClient{}
	mock.getQueueURLFn = func(string) (string, error) {
		return "", &types.QueueDoesNotExist{}
	}
	mock.createQueueFn = func(string, map[string]string) (string, error) {
		return "", createErr
	}

	b := newSQSBackend(mock, testLogger())

	_, err := b.resolveQueueURL(context.Background(), "orders")
	if !errors.Is(err, createErr) {
		t.Fatalf("expected original creation error, got %v", err)
	}
}

func TestSQSBackend_ResolvePropagatesUnrelatedErrors(t *testing.T) {
	t.Parallel()

	accessErr := errors.New("access denied")
	mock := &mockSQSClient{}
	mock.getQueueURLFn = func(string) (string, error) {
		return "", accessErr
	}

	b := newSQSBackend(mock, testLogger())

	_, err := b.resolveQueueURL(context.Background(), "orders")
	if !errors.Is(err, accessErr) {
		t.Fatalf("expected access error, got %v", err)
	}
	_, create := mock.counts()
	if create != 0 {
		t.Errorf("expected no create attempt, got %d", create)
	}
}

func TestSQSBackend_ConcurrentResolveSameName(t *testing.T) {
	t.Parallel()

	mock := &mockSQSClient{}
	b := newSQSBackend(mock, testLogger())

	var wg sync.WaitGroup
	urls := make([]string, 8)
	for i := range urls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url, err := b.resolveQueueURL(context.Background(), "orders")
			if err != nil {
				t.Errorf("resolve %d failed: %v", i, err)
			}
			urls[i] = url
		}(i)
	}
	wg.Wait()

	for i, url := range urls {
		if url != "https://sqs.test/orders" {
			t.Errorf("resolve %d returned %q", i, url)
		}
	}
}

func TestSQSBackend_Publish(t *testing.T) {
	t.Parallel()

	mock := &mockSQSClient{}
	mock.getQueueURLFn = func(name string) (string, error) {
		return "https://sqs.test/" + name, nil
	}

	b := newSQSBackend(mock, testLogger())

	if err := b.Publish(context.Background(), "orders", map[string]any{"id": 1}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	sent := mock.getSent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sent))
	}
	if sent[0].QueueURL != "https://sqs.test/orders" {
		t.Errorf("unexpected queue URL: %s", sent[0].QueueURL)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(sent[0].MessageBody), &decoded); err != nil {
		t.Fatalf("sent body is not JSON: %v", err)
	}
	if decoded["id"] != float64(1) {
		t.Errorf("unexpected body: %s", sent[0].MessageBody)
	}
}

func TestSQSBackend_PublishSendFailure(t *testing.T) {
	t.Parallel()

	mock := &mockSQSClient{sendErr: errors.New("throttled")}
	mock.getQueueURLFn = func(name string) (string, error) {
		return "https://sqs.test/" + name, nil
	}

	b := newSQSBackend(mock, testLogger())

	err := b.Publish(context.Background(), "orders", "x")
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DeliveryError, got %v", err)
	}
}

func TestSQSBackend_SubscribeProcessesBatch(t *testing.T) {
	t.Parallel()

	// One valid JSON body and one raw body. The raw one's handler fails,
	// so only the valid one may be deleted.
	mock := &mockSQSClient{}
	mock.getQueueURLFn = func(name string) (string, error) {
		return "https://sqs.test/" + name, nil
	}
	mock.receiveFn = func(call int) (*sqsReceiveOutput, error) {
		if call > 1 {
			time.Sleep(10 * time.Millisecond)
			return &sqsReceiveOutput{}, nil
		}
		return &sqsReceiveOutput{Messages: []sqsReceivedMessage{
			{MessageID: "m1", ReceiptHandle: "rh-1", Body: `{"id":1}`},
			{MessageID: "m2", ReceiptHandle: "rh-2", Body: `not-json`},
		}}, nil
	}

	b := newSQSBackend(mock, testLogger())

	type delivery struct {
		payload any
	}
	received := make(chan delivery, 2)
	err := b.Subscribe(context.Background(), "orders", func(_ context.Context, payload any) error {
		received <- delivery{payload: payload}
		if s, ok := payload.(string); ok && s == "not-json" {
			return fmt.Errorf("cannot process raw payload")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	var payloads []any
	for i := 0; i < 2; i++ {
		select {
		case d := <-received:
			payloads = append(payloads, d.payload)
		case <-time.After(2 * time.Second):
			t.Fatal("handler was not invoked for both messages")
		}
	}

	var sawParsed, sawRaw bool
	for _, p := range payloads {
		switch v := p.(type) {
		case map[string]any:
			if v["id"] == float64(1) {
				sawParsed = true
			}
		case string:
			if v == "not-json" {
				sawRaw = true
			}
		}
	}
	if !sawParsed || !sawRaw {
		t.Errorf("expected one parsed and one raw payload, got %v", payloads)
	}

	// Only the successful delivery is acknowledged by deletion.
	deadline := time.Now().Add(2 * time.Second)
	for {
		deleted := mock.getDeleted()
		if len(deleted) == 1 {
			if deleted[0].ReceiptHandle != "rh-1" {
				t.Errorf("expected rh-1 deleted, got %s", deleted[0].ReceiptHandle)
			}
			break
		}
		if len(deleted) > 1 {
			t.Fatalf("expected exactly 1 deletion, got %d", len(deleted))
		}
		if time.Now().After(deadline) {
			t.Fatal("successful message was never deleted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSQSBackend_PollContinuesOnTransientTimeout(t *testing.T) {
	t.Parallel()

	polled := make(chan int, 16)
	mock := &mockSQSClient{}
	mock.getQueueURLFn = func(name string) (string, error) {
		return "https://sqs.test/" + name, nil
	}
	mock.receiveFn = func(call int) (*sqsReceiveOutput, error) {
		select {
		case polled <- call:
		default:
		}
		if call == 1 {
			return nil, errors.New("request timed out due to inactivity")
		}
		time.Sleep(10 * time.Millisecond)
		return &sqsReceiveOutput{}, nil
	}

	b := newSQSBackend(mock, testLogger())

	if err := b.Subscribe(context.Background(), "orders", func(context.Context, any) error {
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// The transient error must not trigger the 5s backoff: the second
	// poll has to arrive almost immediately after the first.
	var first, second time.Time
	for i := 0; i < 2; i++ {
		select {
		case <-polled:
			if i == 0 {
				first = time.Now()
			} else {
				second = time.Now()
			}
		case <-time.After(2 * time.Second):
			t.Fatal("poll loop stalled after transient error")
		}
	}
	if second.Sub(first) > time.Second {
		t.Errorf("transient error delayed next poll by %v", second.Sub(first))
	}
}

func TestSQSBackend_SubscribeFailsWhenResolutionFails(t *testing.T) {
	t.Parallel()

	mock := &mockSQSClient{}
	mock.getQueueURLFn = func(string) (string, error) {
		return "", errors.New("access denied")
	}

	b := newSQSBackend(mock, testLogger())

	err := b.Subscribe(context.Background(), "orders", func(context.Context, any) error { return nil })
	var se *SubscriptionError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SubscriptionError, got %v", err)
	}
}
