package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var ErrUnknownDriver = errors.New("unknown queue driver")

// Open connects to the queue database and applies pending migrations.
// For SQLite the dsn is a file path (or ":memory:").
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			dsn = fmt.Sprintf("file:%s?mode=rwc", dsn)
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		// every statement is already serialized by the store mutex; a single
		// connection also keeps ":memory:" databases alive between statements
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
		if dsn != ":memory:" {
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("set WAL mode: %w", err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Migrate applies schema migrations recorded in schema_version.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(context.Context, *sqlx.DB) error{
		migrateV1,
	}

	for i := version; i < len(migrations); i++ {
		slog.Info("applying queue migration", "version", i+1)
		if err := migrations[i](ctx, db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := db.ExecContext(ctx, db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the message_queue table. Timestamps are UTC unix
// milliseconds so eligibility checks compare integers on every backend.
func migrateV1(ctx context.Context, db *sqlx.DB) error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.DriverName() == DriverPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS message_queue (
			id %s,
			recipient TEXT NOT NULL,
			body TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 5,
			created_at BIGINT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_attempt_at BIGINT,
			status TEXT NOT NULL DEFAULT 'pending',
			last_error TEXT,
			scheduled_for BIGINT,
			metadata TEXT
		)`, idColumn),
		`CREATE INDEX IF NOT EXISTS idx_message_queue_dispatch
			ON message_queue (status, priority, created_at, id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
