package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface is the queue surface the services program against; the
// mock package provides a test double.
type ClientInterface interface {
	// Push publishes data and blocks until the broker confirms delivery.
	Push(ctx context.Context, data []byte) error

	// UnsafePush publishes without waiting for confirmation. The broker
	// may drop the message silently.
	UnsafePush(ctx context.Context, data []byte) error

	// Consume returns a channel of deliveries. Every delivery must be
	// acked or nacked by the caller.
	Consume() (<-chan amqp.Delivery, error)

	// Close shuts down the channel and connection.
	Close() error
}

var _ ClientInterface = (*Client)(nil)
