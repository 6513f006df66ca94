package simulator

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fleetquery.dev/fleetquery/pkg/metrics"
	"fleetquery.dev/fleetquery/pkg/mq"
)

// Simulator publishes telemetry envelopes for a seeded fleet.
type Simulator struct {
	logger   *slog.Logger
	mqClient mq.ClientInterface
	devices  []*SimDevice
	metrics  *metrics.SimulatorMetrics // Optional metrics
}

// NewSimulator creates a Simulator publishing through the given MQ client.
func NewSimulator(logger *slog.Logger, mqClient mq.ClientInterface, devices []*SimDevice) *Simulator {
	return &Simulator{
		logger:   logger,
		mqClient: mqClient,
		devices:  devices,
	}
}

// SetMetrics sets the metrics collector for this simulator.
func (s *Simulator) SetMetrics(m *metrics.SimulatorMetrics) {
	s.metrics = m
}

// PublishAll generates and publishes one envelope per device. Publish
// failures are logged and counted but do not stop the remaining devices.
func (s *Simulator) PublishAll(ctx context.Context) {
	now := time.Now()
	for _, dev := range s.devices {
		if err := s.publishOne(ctx, dev, now); err != nil {
			s.logger.Error("failed to publish envelope",
				"device_id", dev.Device.ID,
				"product", dev.Product.Name,
				"error", err,
			)
		}
	}
}

func (s *Simulator) publishOne(ctx context.Context, dev *SimDevice, t time.Time) error {
	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.PublishDuration.WithLabelValues(dev.Product.Name))
		defer timer.ObserveDuration()
	}

	envelope := dev.Generator.Envelope(t)

	message, err := envelope.Marshal()
	if err != nil {
		if s.metrics != nil {
			s.metrics.PublishFailures.WithLabelValues(dev.Product.Name, "marshal_error").Inc()
		}
		return err
	}

	if err := s.mqClient.Push(ctx, message); err != nil {
		if s.metrics != nil {
			s.metrics.PublishFailures.WithLabelValues(dev.Product.Name, "push_error").Inc()
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.EnvelopesPublished.WithLabelValues(dev.Product.Name).Inc()
	}

	return nil
}
