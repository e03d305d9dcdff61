package postgres_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not construct pool: %s", err)
	}

	if err := pool.Client.Ping(); err != nil {
		log.Fatalf("Could not connect to Docker: %s", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "17-alpine",
		Env: []string{
			"POSTGRES_USER=payment",
			"POSTGRES_PASSWORD=payment",
			"POSTGRES_DB=payment_db",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start resource: %s", err)
	}

	hostPort := resource.GetHostPort("5432/tcp")
	databaseURL := fmt.Sprintf("postgres://payment:payment@%s/payment_db?sslmode=disable", hostPort)

	// Set a hard deadline for container startup
	resource.Expire(120)

	pool.MaxWait = 60 * time.Second
	if err := pool.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var poolErr error
		testPool, poolErr = pgxpool.New(ctx, databaseURL)
		if poolErr != nil {
			return poolErr
		}

		return testPool.Ping(ctx)
	}); err != nil {
		log.Fatalf("Could not connect to database: %s", err)
	}

	if err := runMigrations(context.Background(), testPool); err != nil {
		log.Fatalf("Could not run migrations: %s", err)
	}

	code := m.Run()

	testPool.Close()

	if err := pool.Purge(resource); err != nil {
		log.Fatalf("Could not purge resource: %s", err)
	}

	os.Exit(code)
}

// runMigrations applies the same DDL as migrations/000001_initial_schema.up.sql.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		`CREATE TABLE accounts (
			id VARCHAR(26) PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			currency VARCHAR(3) NOT NULL DEFAULT 'USD',
			status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX ix_accounts_owner_id ON accounts (owner_id);`,
		`CREATE TABLE payments (
			id VARCHAR(26) PRIMARY KEY,
			idempotency_key VARCHAR(255) NOT NULL,
			payer_account_id VARCHAR(26) NOT NULL REFERENCES accounts (id),
			payee_account_id VARCHAR(26) NOT NULL REFERENCES accounts (id),
			amount_cents BIGINT NOT NULL,
			currency VARCHAR(3) NOT NULL,
			status VARCHAR(20) NOT NULL,
			description TEXT,
			error_code VARCHAR(50),
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT ck_payments_amount_positive CHECK (amount_cents > 0),
			CONSTRAINT ck_payments_distinct_accounts CHECK (payer_account_id <> payee_account_id)
		);`,
		`CREATE UNIQUE INDEX ix_payments_idempotency_key ON payments (idempotency_key);`,
		`CREATE INDEX ix_payments_payer_account_id ON payments (payer_account_id);`,
		`CREATE INDEX ix_payments_payee_account_id ON payments (payee_account_id);`,
		`CREATE INDEX ix_payments_created_at ON payments (created_at);`,
		`CREATE TABLE ledger_entries (
			id VARCHAR(26) PRIMARY KEY,
			payment_id VARCHAR(26) NOT NULL REFERENCES payments (id),
			account_id VARCHAR(26) NOT NULL REFERENCES accounts (id),
			entry_type VARCHAR(10) NOT NULL,
			amount_cents BIGINT NOT NULL,
			currency VARCHAR(3) NOT NULL,
			balance_after_cents BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT ck_ledger_entries_entry_type CHECK (entry_type IN ('DEBIT', 'CREDIT'))
		);`,
		`CREATE INDEX ix_ledger_entries_payment_id ON ledger_entries (payment_id);`,
		`CREATE INDEX ix_ledger_entries_account_id ON ledger_entries (account_id);`,
		`CREATE INDEX ix_ledger_entries_created_at ON ledger_entries (created_at);`,
		`CREATE TABLE account_balances (
			account_id VARCHAR(26) PRIMARY KEY REFERENCES accounts (id),
			available_balance_cents BIGINT NOT NULL DEFAULT 0,
			pending_balance_cents BIGINT NOT NULL DEFAULT 0,
			currency VARCHAR(3) NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT ck_account_balances_non_negative CHECK (available_balance_cents >= 0)
		);`,
		`CREATE TABLE idempotency_keys (
			key VARCHAR(255) PRIMARY KEY,
			payment_id VARCHAR(26) REFERENCES payments (id),
			response_data JSONB,
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX ix_idempotency_keys_expires_at ON idempotency_keys (expires_at);`,
		`CREATE TABLE outbox (
			id VARCHAR(26) PRIMARY KEY,
			aggregate_type VARCHAR(100) NOT NULL,
			aggregate_id VARCHAR(26) NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			published_at TIMESTAMPTZ,
			retry_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX ix_outbox_unpublished ON outbox (created_at) WHERE published_at IS NULL;`,
		`CREATE INDEX ix_outbox_aggregate ON outbox (aggregate_type, aggregate_id);`,
	}

	for _, sql := range migrations {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("migration failed: %s: %w", sql[:min(50, len(sql))], err)
		}
	}

	return nil
}

func truncateTables(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE outbox, idempotency_keys, ledger_entries, payments, account_balances, accounts CASCADE
	`)
	return err
}

func getTestPool() *pgxpool.Pool {
	return testPool
}
