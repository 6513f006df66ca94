package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetquery.dev/fleetquery/internal/ingest"
	"fleetquery.dev/fleetquery/pkg/metrics"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the telemetry ingestion service",
	Long: `Run the ingestion service that:
- Consumes telemetry envelopes from RabbitMQ
- Maintains each device's current measurement values in PostgreSQL
- Marks devices online and updates their last-heard timestamps`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	// Ingest-specific flags
	ingestCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	ingestCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	ingestCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	ingestCmd.Flags().String("db-password", "", "PostgreSQL password")
	ingestCmd.Flags().String("db-name", "fleetquery", "PostgreSQL database name")
	ingestCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	ingestCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	ingestCmd.Flags().String("queue-name", "telemetry", "RabbitMQ queue name for telemetry envelopes")
	ingestCmd.Flags().Int("admin-port", 8081, "Health and metrics listener port")

	// Bind flags to viper
	_ = viper.BindPFlag("ingest.db.host", ingestCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("ingest.db.port", ingestCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("ingest.db.user", ingestCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("ingest.db.password", ingestCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("ingest.db.name", ingestCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("ingest.db.sslmode", ingestCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("ingest.rabbitmq.url", ingestCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("ingest.rabbitmq.queue_name", ingestCmd.Flags().Lookup("queue-name"))
	_ = viper.BindPFlag("ingest.admin.port", ingestCmd.Flags().Lookup("admin-port"))
}

func runIngest(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting ingestion service")

	// Create server configuration from viper
	config := &ingest.ServerConfig{
		Logger:      logger,
		DBHost:      viper.GetString("ingest.db.host"),
		DBPort:      viper.GetInt("ingest.db.port"),
		DBUser:      viper.GetString("ingest.db.user"),
		DBPassword:  viper.GetString("ingest.db.password"),
		DBName:      viper.GetString("ingest.db.name"),
		DBSSLMode:   viper.GetString("ingest.db.sslmode"),
		RabbitMQURL: viper.GetString("ingest.rabbitmq.url"),
		QueueName:   viper.GetString("ingest.rabbitmq.queue_name"),
		AdminPort:   viper.GetInt("ingest.admin.port"),
		Metrics:     metrics.NewIngestMetrics("fleetquery"),
	}

	// Create and run server
	server, err := ingest.NewServer(config)
	if err != nil {
		logger.Error("failed to create ingestion server", "error", err)
		return err
	}

	logger.Info("ingestion server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"rabbitmq_url", config.RabbitMQURL,
		"queue", config.QueueName,
		"admin_port", config.AdminPort,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("ingestion server error", "error", err)
		return err
	}

	logger.Info("ingestion server stopped")
	return nil
}
