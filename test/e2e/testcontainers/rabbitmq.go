package testcontainers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RabbitMQOptions configures the throwaway broker. Zero-value fields fall
// back to guest/guest credentials.
type RabbitMQOptions struct {
	User          string
	Password      string
	ContainerName string
}

func (o *RabbitMQOptions) withDefaults() RabbitMQOptions {
	opts := RabbitMQOptions{}
	if o != nil {
		opts = *o
	}
	if opts.User == "" {
		opts.User = "guest"
	}
	if opts.Password == "" {
		opts.Password = "guest"
	}
	return opts
}

// RabbitMQ is a running broker container and the AMQP URL it listens on.
type RabbitMQ struct {
	Container testcontainers.Container
	URL       string
}

// StartRabbitMQ starts a RabbitMQ container and blocks until the broker has
// completed startup.
func StartRabbitMQ(ctx context.Context, opts *RabbitMQOptions) (*RabbitMQ, error) {
	o := opts.withDefaults()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3-management-alpine",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5672/tcp"),
				wait.ForLog("Server startup complete"),
			),
			Env: map[string]string{
				"RABBITMQ_DEFAULT_USER": o.User,
				"RABBITMQ_DEFAULT_PASS": o.Password,
			},
			Name: o.ContainerName,
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start rabbitmq container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("resolve rabbitmq host: %w", err)
	}

	mapped, err := container.MappedPort(ctx, "5672")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("resolve rabbitmq port: %w", err)
	}

	return &RabbitMQ{
		Container: container,
		URL:       fmt.Sprintf("amqp://%s:%s@%s:%s/", o.User, o.Password, host, mapped.Port()),
	}, nil
}

// Terminate stops and removes the container.
func (r *RabbitMQ) Terminate(ctx context.Context) error {
	return r.Container.Terminate(ctx)
}
