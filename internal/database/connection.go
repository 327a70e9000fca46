package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bookverse/payment-bridge/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB is the subset of sqlx the repositories use
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	PingContext(ctx context.Context) error
	Close() error
}

// NewConnection opens the audit database with the configured driver
func NewConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	connectionURL := cfg.URL
	// Poolers like Supavisor reject the extended protocol's prepared statements
	if driver == "pgx" && !strings.Contains(connectionURL, "default_query_exec_mode") {
		separator := "?"
		if strings.Contains(connectionURL, "?") {
			separator = "&"
		}
		connectionURL = connectionURL + separator + "default_query_exec_mode=simple_protocol"
	}

	db, err := sqlx.Connect(driver, connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// paymentAuditSchema creates the audit table when it does not exist yet
const paymentAuditSchema = `
CREATE TABLE IF NOT EXISTS payment_audits (
	id                     UUID PRIMARY KEY,
	session_id             UUID,
	user_id                TEXT,
	transaction_ref        TEXT,
	order_id               TEXT,
	event_type             TEXT NOT NULL,
	event_source           TEXT NOT NULL,
	session_kind           TEXT,
	amount                 BIGINT,
	coin_amount            BIGINT,
	response_code          TEXT,
	gateway_transaction_no TEXT,
	payload                JSONB,
	error_message          TEXT,
	processing_time_ms     INTEGER,
	is_duplicate           BOOLEAN NOT NULL DEFAULT FALSE,
	ip_address             TEXT,
	platform               TEXT,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_payment_audits_session ON payment_audits (session_id);
CREATE INDEX IF NOT EXISTS idx_payment_audits_ref ON payment_audits (transaction_ref);
`

// EnsureSchema creates the tables the bridge writes to
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.ExecContext(ctx, paymentAuditSchema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}
