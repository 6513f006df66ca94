// Package mq wraps a single-queue RabbitMQ session with automatic
// reconnection. Publishers get confirm-mode delivery with retries; consumers
// get a manually-acked delivery channel.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"fleetquery.dev/fleetquery/pkg/metrics"
)

const (
	// Delay between reconnection attempts after a dropped connection.
	reconnectDelay = 5 * time.Second

	// Delay between channel re-initialization attempts.
	reInitDelay = 2 * time.Second

	// Publish retry backoff: starts at initialBackoff, doubles per attempt,
	// caps at maxBackoff, gives up after maxRetryAttempts.
	initialBackoff   = 100 * time.Millisecond
	maxBackoff       = 10 * time.Second
	maxRetryAttempts = 5
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// Client manages one AMQP connection and channel bound to a single queue.
// The zero value is not usable; construct with New.
type Client struct {
	mu        sync.Mutex
	log       *slog.Logger
	queueName string
	done      chan bool
	ready     bool

	connection      *amqp.Connection
	channel         *amqp.Channel
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation

	metrics *metrics.MQMetrics
}

// New creates a client bound to queueName and starts connecting to addr in
// the background. Operations fail with a not-connected error until the
// session is up.
func New(queueName, addr string, l *slog.Logger) *Client {
	client := &Client{
		log:       l,
		queueName: queueName,
		done:      make(chan bool),
	}
	go client.handleReconnect(addr)
	return client
}

// SetMetrics attaches an optional metrics collector. Call before the client
// starts moving messages.
func (client *Client) SetMetrics(m *metrics.MQMetrics) {
	client.metrics = m
}

func (client *Client) setReady(ready bool) {
	client.mu.Lock()
	client.ready = ready
	client.mu.Unlock()
}

func (client *Client) isReady() bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.ready
}

// handleReconnect dials addr until a connection sticks, then hands it to
// handleReInit. It returns only when the client shuts down.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)
		client.log.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.log.Error("failed to connect, retrying", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			return
		}
	}
}

func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if client.metrics != nil {
			client.metrics.ConnectionStatus.Set(0)
		}
		return nil, err
	}

	client.changeConnection(conn)
	client.log.Info("connected")

	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(1)
	}
	return conn, nil
}

// handleReInit keeps the channel alive on a live connection. It reports true
// when the client is shutting down and false when the connection dropped and
// a full reconnect is needed.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		if err := client.init(conn); err != nil {
			client.log.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.log.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.log.Info("connection closed, reconnecting")
			return false
		case <-client.notifyChanClose:
			client.log.Info("channel closed, re-running init")
		}
	}
}

// init opens a confirm-mode channel and declares the queue. The queue is
// durable: buffered telemetry must survive a broker restart.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	_, err = ch.QueueDeclare(
		client.queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	client.changeChannel(ch)
	client.setReady(true)
	client.log.Info("client init done")
	return nil
}

func (client *Client) changeConnection(connection *amqp.Connection) {
	client.connection = connection
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)
}

func (client *Client) changeChannel(channel *amqp.Channel) {
	client.channel = channel
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.channel.NotifyClose(client.notifyChanClose)
	client.channel.NotifyPublish(client.notifyConfirm)
}

// backoffWait sleeps for the current backoff, honoring cancellation and
// shutdown, and returns the next backoff duration.
func (client *Client) backoffWait(ctx context.Context, backoff time.Duration) (time.Duration, error) {
	select {
	case <-ctx.Done():
		return backoff, ctx.Err()
	case <-client.done:
		return backoff, errShutdown
	case <-time.After(backoff):
	}

	backoff *= 2
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff, nil
}

// Push publishes data and blocks until the broker confirms it. While the
// session is down or the broker nacks, it retries with exponential backoff,
// giving the reconnect loop time to recover; after maxRetryAttempts it
// returns errMaxRetriesExceeded.
func (client *Client) Push(ctx context.Context, data []byte) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PushDuration.WithLabelValues(client.queueName))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			client.log.Error("giving up on publish", "attempts", attempt)
			if client.metrics != nil {
				client.metrics.PushFailures.WithLabelValues(client.queueName, "max_retries_exceeded").Inc()
			}
			return errMaxRetriesExceeded
		}

		if !client.isReady() {
			client.log.Info("not connected, waiting for reconnection",
				"backoff", backoff, "attempt", attempt)
			var err error
			if backoff, err = client.backoffWait(ctx, backoff); err != nil {
				return err
			}
			continue
		}

		if err := client.UnsafePush(ctx, data); err != nil {
			client.log.Error("publish failed, backing off",
				"error", err, "backoff", backoff, "attempt", attempt)
			var werr error
			if backoff, werr = client.backoffWait(ctx, backoff); werr != nil {
				return werr
			}
			continue
		}

		select {
		case <-ctx.Done():
			if client.metrics != nil {
				client.metrics.PushFailures.WithLabelValues(client.queueName, "context_canceled").Inc()
			}
			return ctx.Err()
		case confirm := <-client.notifyConfirm:
			if confirm.Ack {
				if client.metrics != nil {
					client.metrics.MessagesPushed.WithLabelValues(client.queueName).Inc()
				}
				client.log.Debug("publish confirmed",
					"delivery_tag", confirm.DeliveryTag, "attempt", attempt)
				return nil
			}

			client.log.Warn("publish nacked by broker, backing off",
				"delivery_tag", confirm.DeliveryTag, "backoff", backoff)
			var werr error
			if backoff, werr = client.backoffWait(ctx, backoff); werr != nil {
				return werr
			}
		}
	}
}

// UnsafePush publishes without waiting for a confirmation. The broker may
// still drop the message; use Push when delivery matters.
func (client *Client) UnsafePush(ctx context.Context, data []byte) error {
	if !client.isReady() {
		return errNotConnected
	}

	return client.channel.PublishWithContext(
		ctx,
		"",               // default exchange
		client.queueName, // routing key
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
}

// Consume returns a delivery channel with prefetch 1. Every delivery must be
// acked or nacked by the caller, or the broker stops delivering.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	if !client.isReady() {
		return nil, errNotConnected
	}

	if err := client.channel.Qos(1, 0, false); err != nil {
		return nil, err
	}

	return client.channel.Consume(
		client.queueName,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
}

// Close shuts down the channel and connection and stops the reconnect loop.
func (client *Client) Close() error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if !client.ready {
		return errAlreadyClosed
	}
	close(client.done)

	if err := client.channel.Close(); err != nil {
		return err
	}
	if err := client.connection.Close(); err != nil {
		return err
	}
	client.ready = false

	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(0)
	}
	return nil
}
