package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetquery.dev/fleetquery/internal/api"
	"fleetquery.dev/fleetquery/pkg/metrics"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the query API server",
	Long: `Run the query API server that:
- Filters devices by semantic values, tags, liveness, and name
- Computes fleet-wide aggregates over the filtered set
- Serves stable paginated device listings
- Exposes the API over HTTP with Prometheus metrics`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().Int("http-port", 8080, "HTTP server port")
	serverCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	serverCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	serverCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	serverCmd.Flags().String("db-password", "", "PostgreSQL password")
	serverCmd.Flags().String("db-name", "fleetquery", "PostgreSQL database name")
	serverCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	serverCmd.Flags().Duration("catalog-ttl", time.Minute, "Field catalog cache TTL")
	serverCmd.Flags().Duration("query-timeout", 30*time.Second, "Per-query execution timeout")
	serverCmd.Flags().Int("engine-concurrency", 8, "Parallel per-device resolutions per query")

	// Bind flags to viper
	_ = viper.BindPFlag("server.http.port", serverCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("server.db.host", serverCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("server.db.port", serverCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("server.db.user", serverCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("server.db.password", serverCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("server.db.name", serverCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("server.db.sslmode", serverCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("server.catalog_ttl", serverCmd.Flags().Lookup("catalog-ttl"))
	_ = viper.BindPFlag("server.query_timeout", serverCmd.Flags().Lookup("query-timeout"))
	_ = viper.BindPFlag("server.engine_concurrency", serverCmd.Flags().Lookup("engine-concurrency"))
}

func runServer(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting query API service")

	// Create server configuration from viper
	config := &api.ServerConfig{
		Logger:            logger,
		HTTPPort:          viper.GetInt("server.http.port"),
		DBHost:            viper.GetString("server.db.host"),
		DBPort:            viper.GetInt("server.db.port"),
		DBUser:            viper.GetString("server.db.user"),
		DBPassword:        viper.GetString("server.db.password"),
		DBName:            viper.GetString("server.db.name"),
		DBSSLMode:         viper.GetString("server.db.sslmode"),
		CatalogTTL:        viper.GetDuration("server.catalog_ttl"),
		QueryTimeout:      viper.GetDuration("server.query_timeout"),
		EngineConcurrency: viper.GetInt("server.engine_concurrency"),
		APIMetrics:        metrics.NewAPIMetrics("fleetquery"),
		EngineMetrics:     metrics.NewEngineMetrics("fleetquery"),
	}

	// Create and run server
	server, err := api.NewServer(config)
	if err != nil {
		logger.Error("failed to create query API server", "error", err)
		return err
	}

	logger.Info("query API server configuration",
		"http_port", config.HTTPPort,
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"catalog_ttl", config.CatalogTTL,
		"query_timeout", config.QueryTimeout,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("query API server error", "error", err)
		return err
	}

	logger.Info("query API server stopped")
	return nil
}
