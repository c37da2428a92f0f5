package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	Postgres Dialect = "pgx"
	SQLite   Dialect = "sqlite"
)

// DB is a *sql.DB that knows which SQL dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// ParseURI picks the driver from the URI: postgres:// and postgresql:// go to
// pgx; sqlite://path, file: URIs, :memory: and *.db paths go to sqlite.
func ParseURI(uri string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return Postgres, uri, nil
	case strings.HasPrefix(uri, "sqlite://"):
		return SQLite, strings.TrimPrefix(uri, "sqlite://"), nil
	case strings.HasPrefix(uri, "file:"), uri == ":memory:", strings.HasSuffix(uri, ".db"), strings.HasSuffix(uri, ".sqlite"):
		return SQLite, uri, nil
	}
	return "", "", fmt.Errorf("unsupported database uri %q", uri)
}

func NewDB(uri string) (*DB, error) {
	dialect, dsn, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if dialect == SQLite {
		// one connection keeps :memory: databases shared and serializes writers
		db.SetMaxOpenConns(1)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

func CloseDB(ctx context.Context, db *DB) {
	if err := db.Close(); err != nil {
		slog.ErrorContext(ctx, "failed to close DB", "error", err)
	}
}

// Rebind rewrites '?' placeholders into the dialect's form.
func (db *DB) Rebind(query string) string {
	if db.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
