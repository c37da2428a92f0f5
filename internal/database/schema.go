package database

import (
	"context"
	"fmt"
	"strings"
)

// The schema sticks to types both Postgres and SQLite accept. Timestamps are
// stored as ISO-8601 text.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    login TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    is_admin BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL UNIQUE,
    side TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT '',
    token_id TEXT NOT NULL DEFAULT '',
    price TEXT NOT NULL DEFAULT '',
    notify_token_quantity TEXT NOT NULL DEFAULT '',
    target_nickname TEXT NOT NULL DEFAULT '',
    create_date TEXT NOT NULL,
    seller_real_name TEXT NOT NULL DEFAULT '',
    buyer_real_name TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL DEFAULT '',
    reconciled BOOLEAN NOT NULL DEFAULT FALSE,
    reconciled_by TEXT,
    reconciled_at TEXT,
    notes TEXT,
    source TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_create_date ON orders(create_date);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
`

func InitSchema(ctx context.Context, db *DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}
