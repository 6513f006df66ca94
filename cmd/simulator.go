package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetquery.dev/fleetquery/internal/simulator"
	"fleetquery.dev/fleetquery/pkg/metrics"
)

var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Run the fleet simulator",
	Long: `Run the fleet simulator that:
- Seeds a workspace with product templates and synthetic devices
- Generates plausible telemetry for every seeded device
- Publishes telemetry envelopes to RabbitMQ at a fixed interval`,
	RunE: runSimulator,
}

func init() {
	rootCmd.AddCommand(simulatorCmd)

	// Simulator-specific flags
	simulatorCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	simulatorCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	simulatorCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	simulatorCmd.Flags().String("db-password", "", "PostgreSQL password")
	simulatorCmd.Flags().String("db-name", "fleetquery", "PostgreSQL database name")
	simulatorCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	simulatorCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	simulatorCmd.Flags().String("queue-name", "telemetry", "RabbitMQ queue name for telemetry envelopes")
	simulatorCmd.Flags().String("workspace-id", "demo", "Workspace to seed the fleet into")
	simulatorCmd.Flags().String("workspace-name", "Demo Fleet", "Display name of the seeded workspace")
	simulatorCmd.Flags().Int("device-count", 25, "Number of devices to simulate")
	simulatorCmd.Flags().Duration("interval", 5*time.Second, "Interval between publish rounds")

	// Bind flags to viper
	_ = viper.BindPFlag("simulator.db.host", simulatorCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("simulator.db.port", simulatorCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("simulator.db.user", simulatorCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("simulator.db.password", simulatorCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("simulator.db.name", simulatorCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("simulator.db.sslmode", simulatorCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("simulator.rabbitmq.url", simulatorCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("simulator.rabbitmq.queue_name", simulatorCmd.Flags().Lookup("queue-name"))
	_ = viper.BindPFlag("simulator.workspace.id", simulatorCmd.Flags().Lookup("workspace-id"))
	_ = viper.BindPFlag("simulator.workspace.name", simulatorCmd.Flags().Lookup("workspace-name"))
	_ = viper.BindPFlag("simulator.device_count", simulatorCmd.Flags().Lookup("device-count"))
	_ = viper.BindPFlag("simulator.interval", simulatorCmd.Flags().Lookup("interval"))
}

func runSimulator(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting simulator service")

	// Create server configuration from viper
	config := &simulator.ServerConfig{
		Logger:        logger,
		DBHost:        viper.GetString("simulator.db.host"),
		DBPort:        viper.GetInt("simulator.db.port"),
		DBUser:        viper.GetString("simulator.db.user"),
		DBPassword:    viper.GetString("simulator.db.password"),
		DBName:        viper.GetString("simulator.db.name"),
		DBSSLMode:     viper.GetString("simulator.db.sslmode"),
		RabbitMQURL:   viper.GetString("simulator.rabbitmq.url"),
		QueueName:     viper.GetString("simulator.rabbitmq.queue_name"),
		WorkspaceID:   viper.GetString("simulator.workspace.id"),
		WorkspaceName: viper.GetString("simulator.workspace.name"),
		DeviceCount:   viper.GetInt("simulator.device_count"),
		Interval:      viper.GetDuration("simulator.interval"),
		Metrics:       metrics.NewSimulatorMetrics("fleetquery"),
		MQMetrics:     metrics.NewMQMetrics("fleetquery"),
	}

	// Create and run server
	server, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator server", "error", err)
		return err
	}

	logger.Info("simulator server configuration",
		"rabbitmq_url", config.RabbitMQURL,
		"queue", config.QueueName,
		"workspace_id", config.WorkspaceID,
		"device_count", config.DeviceCount,
		"interval", config.Interval,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("simulator server error", "error", err)
		return err
	}

	logger.Info("simulator server stopped")
	return nil
}
