package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQL statements for the key-value table.
const (
	sqlGetValue = `SELECT value FROM kv WHERE key = ?`

	sqlSetValue = `INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`

	sqlRemoveValue = `DELETE FROM kv WHERE key = ?`
)

// SQLiteMedium persists values in a single-table SQLite database.
type SQLiteMedium struct {
	db       *sql.DB
	maxValue int64
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. The database runs in WAL mode with synchronous=FULL so
// a local write that returned is durable. maxValue caps a single value in
// bytes; zero means unlimited.
func OpenSQLite(ctx context.Context, path string, maxValue int64, logger *slog.Logger) (*SQLiteMedium, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("local store opened", slog.String("db_path", path))

	return &SQLiteMedium{
		db:       db,
		maxValue: maxValue,
		logger:   logger,
		nowFunc:  time.Now,
	}, nil
}

// runMigrations applies all pending schema migrations using the goose
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Get implements Medium.
func (m *SQLiteMedium) Get(ctx context.Context, key string) (string, bool, error) {
	var value string

	err := m.db.QueryRowContext(ctx, sqlGetValue, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("store: reading %s: %w", key, err)
	}

	return value, true, nil
}

// Set implements Medium.
func (m *SQLiteMedium) Set(ctx context.Context, key, value string) error {
	if err := checkQuota(key, value, m.maxValue); err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, sqlSetValue, key, value, m.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("store: writing %s: %w", key, err)
	}

	return nil
}

// Remove implements Medium.
func (m *SQLiteMedium) Remove(ctx context.Context, key string) error {
	if _, err := m.db.ExecContext(ctx, sqlRemoveValue, key); err != nil {
		return fmt.Errorf("store: removing %s: %w", key, err)
	}

	return nil
}

// Close implements Medium.
func (m *SQLiteMedium) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}
