package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"fleetquery.dev/fleetquery/internal/catalog"
	"fleetquery.dev/fleetquery/internal/engine"
	"fleetquery.dev/fleetquery/internal/semantic"
	"fleetquery.dev/fleetquery/internal/store"
	"fleetquery.dev/fleetquery/pkg/metrics"
)

// Server is the query API service: HTTP front on top of the query engine.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	db         *gorm.DB
	config     *ServerConfig
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTP server configuration
	HTTPPort int

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// CatalogTTL bounds field-declaration cache staleness; zero uses the
	// catalog default.
	CatalogTTL time.Duration

	// QueryTimeout bounds each query's execution; zero disables it.
	QueryTimeout time.Duration

	// EngineConcurrency bounds parallel per-device resolution.
	EngineConcurrency int

	// Optional Prometheus metrics collectors.
	APIMetrics    *metrics.APIMetrics
	EngineMetrics *metrics.EngineMetrics
}

// NewServer creates a new query API Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}

	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}

	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}

	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the query API server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting query API server")

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
	s.db = db

	st, err := store.New(db, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	cat := catalog.New(st, s.config.CatalogTTL, s.logger)

	resolver, err := engine.NewResolver(cat, st, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize resolver: %w", err)
	}

	eng, err := engine.New(&engine.Config{
		Devices:     st,
		Resolver:    resolver,
		Logger:      s.logger,
		Metrics:     s.config.EngineMetrics,
		Concurrency: s.config.EngineConcurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	handlers, err := NewHandlers(s.logger, &timeoutEngine{engine: eng, timeout: s.config.QueryTimeout}, s.config.APIMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize handlers: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("query API server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return err
		}
	}

	return s.Shutdown()
}

// timeoutEngine stamps the server's query timeout onto every query before
// execution.
type timeoutEngine struct {
	engine  *engine.Engine
	timeout time.Duration
}

func (t *timeoutEngine) Execute(ctx context.Context, q engine.Query) (*engine.Result, error) {
	q.Timeout = t.timeout
	return t.engine.Execute(ctx, q)
}

func (t *timeoutEngine) ResolveDevice(ctx context.Context, deviceID string, sem semantic.Semantic, red semantic.Reduction) (*float64, []engine.FieldValue, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.engine.ResolveDevice(ctx, deviceID, sem, red)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down query API server")

	var shutdownErr error

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to stop HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	if s.db != nil {
		if err := store.CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; database close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("database close error: %w", err)
			}
		}
	}

	if shutdownErr != nil {
		s.logger.Error("query API server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("query API server shutdown completed successfully")
	return nil
}
