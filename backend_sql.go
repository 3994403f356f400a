package chatsync

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLBackend keeps values in a single key/value table. Supported drivers are
// "sqlite" (modernc.org/sqlite) and "mysql".
type SQLBackend struct {
	db     *sql.DB
	driver string
}

// OpenSQLBackend opens the database, checks connectivity and creates the table.
func OpenSQLBackend(ctx context.Context, driver, dsn string) (*SQLBackend, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s database", driver)
	}

	if driver == "sqlite" {
		// One connection: an in-memory database is per connection and sqlite
		// serialises writers anyway.
		db.SetMaxOpenConns(1)
		_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging database")
	}

	b := &SQLBackend{db: db, driver: driver}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLBackend) migrate(ctx context.Context) error {
	var stmt string
	switch b.driver {
	case "sqlite":
		stmt = `CREATE TABLE IF NOT EXISTS chatsync_kv (
			name TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`
	case "mysql":
		stmt = `CREATE TABLE IF NOT EXISTS chatsync_kv (
			name VARCHAR(191) NOT NULL,
			value LONGBLOB NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (name)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	default:
		return errors.Errorf("unsupported driver for migration: %s", b.driver)
	}
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "migrate (%s)", b.driver)
	}
	return nil
}

func (b *SQLBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM chatsync_kv WHERE name = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s", key)
	}
	return value, nil
}

func (b *SQLBackend) Set(ctx context.Context, key string, value []byte) error {
	var query string
	if b.driver == "mysql" {
		query = `INSERT INTO chatsync_kv (name, value, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
	} else {
		query = `INSERT INTO chatsync_kv (name, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	}
	if _, err := b.db.ExecContext(ctx, query, key, value, time.Now().UnixMicro()); err != nil {
		return errors.Wrapf(err, "writing %s", key)
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM chatsync_kv WHERE name = ?`, key); err != nil {
		return errors.Wrapf(err, "deleting %s", key)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLBackend) Close() error {
	return b.db.Close()
}
