// Package mock provides an in-memory double for the mq client interface.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"fleetquery.dev/fleetquery/pkg/mq"
)

// MockClient implements mq.ClientInterface. The zero value is usable: every
// operation succeeds and records its arguments. Set the Func or Error fields
// to script behavior.
type MockClient struct {
	mu sync.Mutex

	// PushFunc overrides Push when set; otherwise Push returns PushError.
	PushFunc  func(ctx context.Context, data []byte) error
	PushError error
	// Pushed holds the payload of every Push call, in order.
	Pushed [][]byte

	// UnsafePushFunc overrides UnsafePush when set; otherwise it returns
	// UnsafePushError.
	UnsafePushFunc  func(ctx context.Context, data []byte) error
	UnsafePushError error
	UnsafePushed    [][]byte

	// ConsumeChannel is handed out by Consume together with ConsumeError.
	ConsumeChannel <-chan amqp.Delivery
	ConsumeError   error
	ConsumeCalls   int

	CloseError error
	CloseCalls int
}

// Push implements mq.ClientInterface.
func (m *MockClient) Push(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Pushed = append(m.Pushed, data)
	if m.PushFunc != nil {
		return m.PushFunc(ctx, data)
	}
	return m.PushError
}

// UnsafePush implements mq.ClientInterface.
func (m *MockClient) UnsafePush(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UnsafePushed = append(m.UnsafePushed, data)
	if m.UnsafePushFunc != nil {
		return m.UnsafePushFunc(ctx, data)
	}
	return m.UnsafePushError
}

// Consume implements mq.ClientInterface.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConsumeCalls++
	return m.ConsumeChannel, m.ConsumeError
}

// Close implements mq.ClientInterface.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

var _ mq.ClientInterface = (*MockClient)(nil)
