// Package ingest consumes device telemetry from RabbitMQ and keeps the
// current measurement values and device liveness in PostgreSQL up to date.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	qerrors "fleetquery.dev/fleetquery/internal/errors"
	"fleetquery.dev/fleetquery/internal/store"
	"fleetquery.dev/fleetquery/pkg/metrics"
	"fleetquery.dev/fleetquery/pkg/mq"
	"fleetquery.dev/fleetquery/pkg/telemetry"
)

// MeasurementWriter is the store surface the consumer writes through.
type MeasurementWriter interface {
	TouchDevice(ctx context.Context, deviceID string, heardAt time.Time) error
	UpsertMeasurement(ctx context.Context, deviceID, fieldName string, value float64, recordedAt time.Time) error
}

var _ MeasurementWriter = (*store.Store)(nil)

// Consumer consumes telemetry envelopes from RabbitMQ and writes current
// measurement values to the store.
type Consumer struct {
	logger       *slog.Logger
	store        MeasurementWriter
	mqClient     mq.ClientInterface
	queueName    string
	metrics      *metrics.IngestMetrics // Optional metrics
	waitForReady bool
	done         chan struct{}
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger      *slog.Logger
	Store       MeasurementWriter
	RabbitMQURL string
	QueueName   string
	Metrics     *metrics.IngestMetrics

	// MQClient overrides the RabbitMQ client; used by tests.
	MQClient mq.ClientInterface
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.RabbitMQURL == "" && cfg.MQClient == nil {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	mqClient := cfg.MQClient
	waitForReady := false
	if mqClient == nil {
		mqClient = mq.New(cfg.QueueName, cfg.RabbitMQURL, cfg.Logger)
		waitForReady = true
	}

	return &Consumer{
		logger:       cfg.Logger,
		store:        cfg.Store,
		mqClient:     mqClient,
		queueName:    cfg.QueueName,
		metrics:      cfg.Metrics,
		waitForReady: waitForReady,
		done:         make(chan struct{}),
	}, nil
}

// Start begins consuming telemetry from RabbitMQ.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting telemetry consumer")

	// Wait for MQ client to be ready
	if c.waitForReady {
		time.Sleep(2 * time.Second)
	}

	deliveries, err := c.mqClient.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	if c.metrics != nil {
		c.metrics.ActiveConsumers.Inc()
	}

	c.logger.Info("telemetry consumer started, waiting for envelopes")

	go c.processDeliveries(ctx, deliveries)

	return nil
}

// processDeliveries drains the deliveries channel until it closes or the
// context is canceled.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer func() {
		if c.metrics != nil {
			c.metrics.ActiveConsumers.Dec()
		}
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping envelope processing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				return
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery processes a single telemetry envelope.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.ProcessingDuration.WithLabelValues(c.queueName))
		defer timer.ObserveDuration()
	}

	envelope, err := telemetry.Unmarshal(delivery.Body)
	if err != nil {
		c.logger.Error("failed to unmarshal telemetry envelope", "error", err)
		if c.metrics != nil {
			c.metrics.EnvelopeErrors.WithLabelValues(c.queueName, "unmarshal_error").Inc()
			c.metrics.EnvelopesTotal.WithLabelValues(c.queueName, "error").Inc()
		}
		// Ack malformed envelopes to avoid reprocessing them forever.
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack envelope", "error", ackErr)
		}
		return
	}

	c.logger.Debug("received telemetry envelope",
		"device_id", envelope.DeviceID,
		"fields", len(envelope.Fields),
	)

	if err := c.applyEnvelope(ctx, envelope); err != nil {
		if qerrors.IsNotFound(err) {
			// Telemetry for an unprovisioned device: drop it, there is
			// nothing to reprocess.
			c.logger.Warn("telemetry for unknown device", "device_id", envelope.DeviceID)
			if c.metrics != nil {
				c.metrics.EnvelopeErrors.WithLabelValues(c.queueName, "unknown_device").Inc()
				c.metrics.EnvelopesTotal.WithLabelValues(c.queueName, "error").Inc()
			}
			if ackErr := delivery.Ack(false); ackErr != nil {
				c.logger.Error("failed to ack envelope", "error", ackErr)
			}
			return
		}

		c.logger.Error("failed to apply telemetry envelope",
			"device_id", envelope.DeviceID,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.EnvelopeErrors.WithLabelValues(c.queueName, "store_error").Inc()
			c.metrics.EnvelopesTotal.WithLabelValues(c.queueName, "error").Inc()
		}
		// Nack so the envelope can be reprocessed once the store recovers.
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack envelope", "error", nackErr)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack envelope", "error", err)
		return
	}

	if c.metrics != nil {
		c.metrics.EnvelopesTotal.WithLabelValues(c.queueName, "success").Inc()
	}
}

// applyEnvelope writes the envelope's field values and bumps the device's
// liveness.
func (c *Consumer) applyEnvelope(ctx context.Context, envelope *telemetry.Envelope) error {
	if err := c.store.TouchDevice(ctx, envelope.DeviceID, envelope.RecordedAt); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.DevicesTouched.Inc()
	}

	for field, value := range envelope.Fields {
		if err := c.store.UpsertMeasurement(ctx, envelope.DeviceID, field, value, envelope.RecordedAt); err != nil {
			return err
		}
		if c.metrics != nil {
			c.metrics.MeasurementsWritten.Inc()
		}
	}
	return nil
}

// Stop stops the consumer and closes the MQ client.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping telemetry consumer")

	if err := c.mqClient.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	<-c.done

	c.logger.Info("telemetry consumer stopped")
	return nil
}
