package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aepblueprint/internal/db"
	"aepblueprint/internal/outline"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Store implements outline.Repository on database/sql. Every query is written
// once with $n placeholders and rebound for SQLite.
type Store struct {
	conn    *sql.DB
	dialect db.Dialect
	now     func() time.Time
	newID   func() string
}

var _ outline.Repository = (*Store)(nil)

func New(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{
		conn:    conn,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:   uuid.NewString,
	}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

// inTx runs fn in a transaction that is committed only when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", outline.ErrNotFound, kind, id)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// requireRows turns a zero-row write into NotFound.
func requireRows(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func nullString(p *string) sql.NullString {
	if p == nil || strings.TrimSpace(*p) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullURLs(urls []string) (sql.NullString, error) {
	if len(urls) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(urls)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeURLs(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil, fmt.Errorf("decode media_urls: %w", err)
	}
	return out, nil
}

// renumber applies the minimal Normalize plan to a sibling set inside tx.
func (s *Store) renumber(ctx context.Context, tx *sql.Tx, table string, items []outline.OrderedItem, now time.Time) error {
	for _, u := range outline.Normalize(items) {
		if _, err := tx.ExecContext(ctx,
			s.q(`UPDATE `+table+` SET order_idx = $1, updated_at = $2 WHERE id = $3`),
			u.OrderIdx, now, u.ID,
		); err != nil {
			return fmt.Errorf("renumber %s: %w", table, err)
		}
	}
	return nil
}

func scanOrder(rows *sql.Rows) ([]outline.OrderedItem, error) {
	defer rows.Close()
	items := make([]outline.OrderedItem, 0)
	for rows.Next() {
		var it outline.OrderedItem
		if err := rows.Scan(&it.ID, &it.OrderIdx, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.CreatedAt = it.CreatedAt.UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}
