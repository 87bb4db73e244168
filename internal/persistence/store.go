// Package persistence is the Persistence Layer (spec §4.8): durable
// storage for quotes, orders, trades, arbitrage signals, balances and fee
// schedules, plus retention cleanup and periodic backups. It is built on
// sqlx over lib/pq, generalized from the teacher's database/sql +
// lib/pq repository pattern (internal/repository/order_repository.go) to
// a single Store shared across per-concern files in this package.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"spotarb/pkg/utils"
)

// Store owns the database handle and default per-call timeout used by
// every method in this package.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  *utils.Logger
}

// Open connects to Postgres at dsn and verifies connectivity.
func Open(dsn string, timeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: connect: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, timeout: timeout, logger: utils.L().WithComponent("persistence")}, nil
}

// NewStore wraps an already-open handle, used by tests against sqlmock.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, timeout: timeout, logger: utils.L().WithComponent("persistence")}
}

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.timeout)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// schema is applied idempotently on startup. Indices match §4.8: every
// hot-path table is indexed on (venue, symbol) and timestamp; orders
// additionally on (venue, exchange_id) for exchange-side lookups.
const schema = `
CREATE TABLE IF NOT EXISTS quotes (
	id         BIGSERIAL PRIMARY KEY,
	venue      TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	bid_price  DOUBLE PRECISION NOT NULL,
	bid_size   DOUBLE PRECISION NOT NULL,
	ask_price  DOUBLE PRECISION NOT NULL,
	ask_size   DOUBLE PRECISION NOT NULL,
	synthetic  BOOLEAN NOT NULL DEFAULT FALSE,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quotes_venue_symbol ON quotes (venue, symbol);
CREATE INDEX IF NOT EXISTS idx_quotes_timestamp ON quotes (timestamp);

CREATE TABLE IF NOT EXISTS opportunities (
	id                 BIGSERIAL PRIMARY KEY,
	symbol             TEXT NOT NULL,
	buy_venue          TEXT NOT NULL,
	sell_venue         TEXT NOT NULL,
	buy_price          DOUBLE PRECISION NOT NULL,
	sell_price         DOUBLE PRECISION NOT NULL,
	buy_size           DOUBLE PRECISION NOT NULL,
	sell_size          DOUBLE PRECISION NOT NULL,
	gross_profit_pct   DOUBLE PRECISION NOT NULL,
	net_profit_pct     DOUBLE PRECISION NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL,
	is_premium_outlier BOOLEAN NOT NULL DEFAULT FALSE,
	executed           BOOLEAN NOT NULL DEFAULT FALSE,
	timestamp          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_symbol ON opportunities (symbol);
CREATE INDEX IF NOT EXISTS idx_opportunities_timestamp ON opportunities (timestamp);

CREATE TABLE IF NOT EXISTS orders (
	id            BIGSERIAL PRIMARY KEY,
	signal_id     BIGINT,
	venue         TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	type          TEXT NOT NULL,
	quantity      DOUBLE PRECISION NOT NULL,
	price_avg     DOUBLE PRECISION NOT NULL,
	status        TEXT NOT NULL,
	exchange_id   TEXT,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	filled_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_orders_venue_symbol ON orders (venue, symbol);
CREATE INDEX IF NOT EXISTS idx_orders_venue_exchange_id ON orders (venue, exchange_id);
CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders (created_at);

CREATE TABLE IF NOT EXISTS trades (
	id             BIGSERIAL PRIMARY KEY,
	signal_id      BIGINT NOT NULL UNIQUE,
	symbol         TEXT NOT NULL,
	state          TEXT NOT NULL,
	realized_pnl   DOUBLE PRECISION NOT NULL,
	unrealized_pnl DOUBLE PRECISION NOT NULL,
	entry_time     TIMESTAMPTZ,
	last_update    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades (symbol);
CREATE INDEX IF NOT EXISTS idx_trades_last_update ON trades (last_update);

CREATE TABLE IF NOT EXISTS balances (
	venue      TEXT NOT NULL,
	asset      TEXT NOT NULL,
	free       DOUBLE PRECISION NOT NULL,
	locked     DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (venue, asset)
);

CREATE TABLE IF NOT EXISTS fees (
	venue      TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	taker_fee  DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (venue, symbol)
);

CREATE TABLE IF NOT EXISTS exchange_accounts (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	api_key     TEXT NOT NULL,
	secret_key  TEXT NOT NULL,
	passphrase  TEXT NOT NULL DEFAULT '',
	connected   BOOLEAN NOT NULL DEFAULT FALSE,
	last_error  TEXT,
	updated_at  TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id         BIGSERIAL PRIMARY KEY,
	type       TEXT NOT NULL,
	severity   TEXT NOT NULL,
	signal_id  BIGINT,
	message    TEXT NOT NULL,
	meta       JSONB,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_timestamp ON notifications (timestamp);
`

// Migrate applies the schema. Safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("persistence: migrate: %w", err)
	}
	s.logger.Info("schema migrated")
	return nil
}
