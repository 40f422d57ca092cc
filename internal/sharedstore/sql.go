package sharedstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Dialect selects placeholder style and column types for SQLBackend.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// SQLBackend keeps every key as a row of kv_entries.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLBackend creates the table when missing.
func NewSQLBackend(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLBackend, error) {
	if db == nil {
		return nil, errors.New("sharedstore: nil database")
	}
	b := &SQLBackend{db: db, dialect: dialect, now: time.Now}
	if err := b.migrate(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLBackend) migrate(ctx context.Context) error {
	tsType := "TIMESTAMP"
	if b.dialect == Postgres {
		tsType = "TIMESTAMPTZ"
	}
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv_entries (
			entry_key  TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			version    BIGINT NOT NULL,
			updated_at `+tsType+` NOT NULL
		)`)
	return errors.Wrap(err, "migrate kv_entries")
}

// rebind rewrites ? placeholders to $n for Postgres.
func (b *SQLBackend) rebind(query string) string {
	if b.dialect != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *SQLBackend) Load(ctx context.Context, key string) (Entry, error) {
	row := b.db.QueryRowContext(ctx, b.rebind(`SELECT value, version FROM kv_entries WHERE entry_key = ?`), key)
	var (
		value   string
		version int64
	)
	if err := row.Scan(&value, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, nil
		}
		return Entry{}, errors.Wrapf(err, "load %s", key)
	}
	return Entry{Value: []byte(value), Version: version}, nil
}

func (b *SQLBackend) Swap(ctx context.Context, key string, expected int64, value []byte) (int64, error) {
	now := b.now().UTC()
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = b.db.ExecContext(ctx, b.rebind(`
			INSERT INTO kv_entries (entry_key, value, version, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT (entry_key) DO NOTHING
		`), key, string(value), now)
	} else {
		res, err = b.db.ExecContext(ctx, b.rebind(`
			UPDATE kv_entries
			SET value = ?, version = version + 1, updated_at = ?
			WHERE entry_key = ? AND version = ?
		`), string(value), now, key, expected)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "swap %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(err, "swap %s", key)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}
	return expected + 1, nil
}

// Close is a no-op; the connection belongs to the caller.
func (b *SQLBackend) Close() error { return nil }
