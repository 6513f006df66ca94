package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetquery.dev/fleetquery/internal/store"
	"fleetquery.dev/fleetquery/pkg/metrics"
	"fleetquery.dev/fleetquery/pkg/mq"
)

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// RabbitMQURL is the connection string for RabbitMQ
	RabbitMQURL string
	// QueueName is the queue telemetry envelopes are published to
	QueueName string
	// WorkspaceID identifies the workspace the fleet is seeded into
	WorkspaceID string
	// WorkspaceName is the display name of the seeded workspace
	WorkspaceName string
	// DeviceCount is the number of devices to simulate
	DeviceCount int
	// Interval is the time between publish rounds
	Interval time.Duration

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.SimulatorMetrics
	// MQMetrics is the optional Prometheus metrics collector for MQ operations
	MQMetrics *metrics.MQMetrics
}

// Server seeds the fleet and runs the publish loop until shutdown.
type Server struct {
	logger  *slog.Logger
	config  *ServerConfig
	client  *mq.Client
	metrics *metrics.SimulatorMetrics
}

var (
	errInvalidDeviceCount = errors.New("device count must be greater than 0")
	errInvalidInterval    = errors.New("interval must be greater than 0")
	errLoggerRequired     = errors.New("logger is required")
	errWorkspaceRequired  = errors.New("workspace id is required")
)

// NewServer creates a new simulator server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.DeviceCount <= 0 {
		return nil, errInvalidDeviceCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.WorkspaceID == "" {
		return nil, errWorkspaceRequired
	}

	return &Server{
		logger:  cfg.Logger,
		config:  cfg,
		metrics: cfg.Metrics,
	}, nil
}

// Run seeds the fleet, starts publishing, and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	db, err := store.NewDB(&store.DBConfig{
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := store.CloseDB(db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
		}
	}()

	st, err := store.New(db, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	devices, err := NewSeeder(st).Seed(ctx, s.config.WorkspaceID, s.config.WorkspaceName, s.config.DeviceCount)
	if err != nil {
		return fmt.Errorf("failed to seed fleet: %w", err)
	}

	s.logger.Info("fleet seeded",
		"workspace_id", s.config.WorkspaceID,
		"device_count", len(devices),
		"product_count", len(Products),
	)

	s.client = mq.New(s.config.QueueName, s.config.RabbitMQURL, s.logger.With(
		slog.String("component", "mq-client"),
	))
	if s.config.MQMetrics != nil {
		s.client.SetMetrics(s.config.MQMetrics)
	}

	sim := NewSimulator(s.logger, s.client, devices)
	if s.metrics != nil {
		sim.SetMetrics(s.metrics)
		s.metrics.ActiveDevices.Set(float64(len(devices)))
		defer s.metrics.ActiveDevices.Set(0)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("simulator started",
		"queue", s.config.QueueName,
		"interval", s.config.Interval,
	)

	for {
		select {
		case sig := <-sigChan:
			s.logger.Info("received shutdown signal", "signal", sig.String())
			return s.Shutdown()
		case <-ctx.Done():
			s.logger.Info("context canceled, shutting down")
			return s.Shutdown()
		case <-ticker.C:
			sim.PublishAll(ctx)
			s.logger.Debug("publish round completed", "device_count", len(devices))
		}
	}
}

// Shutdown closes the MQ client gracefully.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down simulator")

	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Error("failed to close MQ client", "error", err)
			return err
		}
	}

	s.logger.Info("simulator stopped")
	return nil
}
