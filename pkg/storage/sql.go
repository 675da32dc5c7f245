package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Dialect selects the SQL flavour used by SQLBackend
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

const sqlTable = "kv_records"

// SQLBackend stores records in a single key/value table
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
	queries sqlQueries
}

type sqlQueries struct {
	create string
	get    string
	put    string
	delete string
	keys   string
}

func buildQueries(d Dialect) sqlQueries {
	bind := func(n int) string {
		if d == DialectPostgres {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	}
	blob := "BLOB"
	if d == DialectPostgres {
		blob = "BYTEA"
	}
	return sqlQueries{
		create: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	record_key TEXT PRIMARY KEY,
	record_data %s NOT NULL,
	updated_at BIGINT NOT NULL
)`, sqlTable, blob),
		get: fmt.Sprintf("SELECT record_data FROM %s WHERE record_key = %s", sqlTable, bind(1)),
		put: fmt.Sprintf(`INSERT INTO %s (record_key, record_data, updated_at) VALUES (%s, %s, %s)
ON CONFLICT (record_key) DO UPDATE SET record_data = excluded.record_data, updated_at = excluded.updated_at`,
			sqlTable, bind(1), bind(2), bind(3)),
		delete: fmt.Sprintf("DELETE FROM %s WHERE record_key = %s", sqlTable, bind(1)),
		keys: fmt.Sprintf(`SELECT record_key FROM %s WHERE record_key LIKE %s ESCAPE '\' ORDER BY record_key`,
			sqlTable, bind(1)),
	}
}

// NewSQLBackend wraps an open database and ensures the records table exists
func NewSQLBackend(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLBackend, error) {
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	b := &SQLBackend{db: db, dialect: dialect, queries: buildQueries(dialect)}
	if _, err := db.ExecContext(ctx, b.queries.create); err != nil {
		return nil, fmt.Errorf("failed to create %s table: %w", sqlTable, err)
	}
	return b, nil
}

// OpenSQLite opens (or creates) a SQLite database file
func OpenSQLite(ctx context.Context, path string) (*SQLBackend, error) {
	db, err := sql.Open(string(DialectSQLite), path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite %q: %w", path, err)
	}
	b, err := NewSQLBackend(ctx, db, DialectSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// OpenPostgres connects to PostgreSQL
func OpenPostgres(ctx context.Context, url string) (*SQLBackend, error) {
	db, err := sql.Open(string(DialectPostgres), url)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	b, err := NewSQLBackend(ctx, db, DialectPostgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Get implements Backend.Get
func (b *SQLBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, b.queries.get, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %q: %w", key, mapSQLError(err))
	}
	return data, nil
}

// Put implements Backend.Put
func (b *SQLBackend) Put(ctx context.Context, key string, data []byte) error {
	if _, err := b.db.ExecContext(ctx, b.queries.put, key, data, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write record %q: %w", key, mapSQLError(err))
	}
	return nil
}

// Delete implements Backend.Delete
func (b *SQLBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, b.queries.delete, key); err != nil {
		return fmt.Errorf("failed to delete record %q: %w", key, mapSQLError(err))
	}
	return nil
}

// Keys implements Backend.Keys
func (b *SQLBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, b.queries.keys, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", mapSQLError(err))
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan record key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return keys, nil
}

// Close implements Backend.Close
func (b *SQLBackend) Close() error {
	return b.db.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// mapSQLError recognises the "disk full" family of errors reported by
// SQLite and PostgreSQL.
func mapSQLError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database or disk is full"),
		strings.Contains(msg, "could not extend file"),
		strings.Contains(msg, "no space left on device"):
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	case strings.Contains(msg, "attempt to write a readonly database"),
		strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	default:
		return err
	}
}
