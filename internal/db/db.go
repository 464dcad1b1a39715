package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported db driver %q", s)
	}
}

type Config struct {
	Dialect Dialect
	DSN     string
	Pool    PoolConfig
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	switch cfg.Dialect {
	case SQLite:
		return OpenSQLite(ctx, cfg.DSN)
	case Postgres, "":
		return OpenPostgres(ctx, cfg.DSN, cfg.Pool)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Dialect)
	}
}

// Rebind rewrites $n placeholders to ?n for SQLite. Queries are written once
// in Postgres form.
func (d Dialect) Rebind(query string) string {
	if d != SQLite || !strings.Contains(query, "$") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
