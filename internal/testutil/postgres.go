// Package testutil provides test helpers including container management.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cory-johannsen/tracker/internal/config"
	"github.com/cory-johannsen/tracker/internal/storage/postgres"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance.
type PostgresContainer struct {
	container testcontainers.Container
	Pool      *postgres.Pool
	RawPool   *pgxpool.Pool
	Config    config.DatabaseConfig
}

// NewPostgresContainer starts a PostgreSQL test container and returns
// a connected Pool.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a connected pool,
// or fails the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v [%s]", err, time.Since(start))
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}

	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	dbCfg := config.DatabaseConfig{
		Host:            host,
		Port:            mappedPort.Int(),
		User:            "test",
		Password:        "test",
		Name:            "test",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	pool, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		t.Fatalf("connecting to test postgres: %v [%s]", err, time.Since(start))
	}

	t.Logf("postgres container started [%s]", time.Since(start))

	pc := &PostgresContainer{
		container: container,
		Pool:      pool,
		RawPool:   pool.DB(),
		Config:    dbCfg,
	}

	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	return pc
}

// ApplyMigrations runs the schema creation SQL directly for tests.
// This avoids requiring the migrate tool in the test environment.
//
// Precondition: Pool must be connected.
// Postcondition: The tracker tables exist in the test database.
func (pc *PostgresContainer) ApplyMigrations(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	schema := `
		CREATE TABLE IF NOT EXISTS actors (
			id         TEXT         PRIMARY KEY,
			name       VARCHAR(128) NOT NULL UNIQUE,
			kind       VARCHAR(16)  NOT NULL CHECK (kind IN ('player', 'npc')),
			modifier   INTEGER      NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS encounters (
			id                  TEXT         PRIMARY KEY,
			name                VARCHAR(128) NOT NULL,
			round               INTEGER      NOT NULL DEFAULT 1 CHECK (round >= 1),
			active_combatant_id TEXT,
			created_at          TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS combatants (
			id            TEXT             PRIMARY KEY,
			encounter_id  TEXT             NOT NULL REFERENCES encounters (id) ON DELETE CASCADE,
			base_actor_id TEXT,
			display_name  VARCHAR(160)     NOT NULL,
			kind          VARCHAR(16)      NOT NULL CHECK (kind IN ('player', 'npc')),
			initiative    DOUBLE PRECISION,
			modifier      INTEGER          NOT NULL DEFAULT 0,
			tie_break     INTEGER          NOT NULL DEFAULT 0,
			added_order   INTEGER          NOT NULL DEFAULT 0,
			taken_turn    BOOLEAN          NOT NULL DEFAULT FALSE,
			UNIQUE (encounter_id, display_name)
		);
		CREATE INDEX IF NOT EXISTS idx_combatants_encounter ON combatants (encounter_id);

		CREATE TABLE IF NOT EXISTS condition_attachments (
			id               TEXT        PRIMARY KEY,
			combatant_id     TEXT        NOT NULL REFERENCES combatants (id) ON DELETE CASCADE,
			condition_id     VARCHAR(64) NOT NULL,
			permanent        BOOLEAN     NOT NULL DEFAULT FALSE,
			remaining        INTEGER     NOT NULL DEFAULT 0,
			applied_at_round INTEGER     NOT NULL DEFAULT 1,
			UNIQUE (combatant_id, condition_id)
		);
		CREATE INDEX IF NOT EXISTS idx_attachments_combatant ON condition_attachments (combatant_id);
	`

	_, err := pc.RawPool.Exec(ctx, schema)
	if err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	t.Logf("migrations applied [%s]", time.Since(start))
}

// NewPool starts a migrated PostgreSQL container and returns its raw pool.
// Convenience wrapper for repository tests that only need a database handle.
//
// Precondition: Docker must be available.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pc := NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return pc.RawPool
}

// DSN returns the connection string for the test database.
func (pc *PostgresContainer) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pc.Config.User, pc.Config.Password,
		pc.Config.Host, pc.Config.Port,
		pc.Config.Name, pc.Config.SSLMode,
	)
}
