// Package testcontainers starts throwaway infrastructure containers for the
// e2e suites: a Postgres instance for store-backed tests and a RabbitMQ
// broker for the messaging client.
package testcontainers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresOptions configures the throwaway database. Zero-value fields fall
// back to postgres/postgres credentials and a fleetquery_test database.
type PostgresOptions struct {
	User          string
	Password      string
	Database      string
	ContainerName string
}

func (o *PostgresOptions) withDefaults() PostgresOptions {
	opts := PostgresOptions{}
	if o != nil {
		opts = *o
	}
	if opts.User == "" {
		opts.User = "postgres"
	}
	if opts.Password == "" {
		opts.Password = "postgres"
	}
	if opts.Database == "" {
		opts.Database = "fleetquery_test"
	}
	return opts
}

// Postgres is a running database container together with the connection
// parameters the suite reaches it under.
type Postgres struct {
	Container testcontainers.Container
	Host      string
	Port      int
	User      string
	Password  string
	Database  string
}

// StartPostgres starts a Postgres container and blocks until it accepts
// connections.
func StartPostgres(ctx context.Context, opts *PostgresOptions) (*Postgres, error) {
	o := opts.withDefaults()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections"),
			),
			Env: map[string]string{
				"POSTGRES_USER":     o.User,
				"POSTGRES_PASSWORD": o.Password,
				"POSTGRES_DB":       o.Database,
			},
			Name: o.ContainerName,
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("resolve postgres host: %w", err)
	}

	mapped, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("resolve postgres port: %w", err)
	}

	return &Postgres{
		Container: container,
		Host:      host,
		Port:      mapped.Int(),
		User:      o.User,
		Password:  o.Password,
		Database:  o.Database,
	}, nil
}

// Terminate stops and removes the container.
func (p *Postgres) Terminate(ctx context.Context) error {
	return p.Container.Terminate(ctx)
}
