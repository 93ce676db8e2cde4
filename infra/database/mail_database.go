package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteConfig holds local store configuration.
type SQLiteConfig struct {
	BusyTimeout     time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLiteConfig returns defaults suited to a single-process store.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		BusyTimeout:     5 * time.Second,
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Hour,
	}
}

// Open opens (creating if needed) the store file, switches it to WAL mode,
// enforces foreign keys and applies all pending migrations.
func Open(path string, log zerolog.Logger) (*sqlx.DB, error) {
	return OpenWithConfig(path, DefaultSQLiteConfig(), log)
}

func OpenWithConfig(path string, cfg *SQLiteConfig, log zerolog.Logger) (*sqlx.DB, error) {
	if cfg == nil {
		cfg = DefaultSQLiteConfig()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}

	// sqlite allows one writer; a single pooled connection avoids SQLITE_BUSY
	// churn under concurrent syncs.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	if err := Migrate(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}

	EnsureSearchIndex(ctx, db, log)

	return db, nil
}

// Migrate applies every migration above the current schema version, each in
// its own transaction, and records it in schema_migrations.
func Migrate(ctx context.Context, db *sqlx.DB, log zerolog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Info().Int("version", m.Version).Msg("applied store migration")
	}

	return nil
}

// EnsureSearchIndex creates the FTS5 table and its sync triggers. Builds
// without FTS5 keep working; the text filter then falls back to LIKE.
// Returns whether full-text search is available.
func EnsureSearchIndex(ctx context.Context, db *sqlx.DB, log zerolog.Logger) bool {
	if _, err := db.ExecContext(ctx, searchIndexSchema); err != nil {
		log.Warn().Err(err).Msg("full-text index unavailable, text search falls back to LIKE")
		return false
	}
	return true
}

// HasSearchIndex reports whether the FTS5 table exists in an opened store.
func HasSearchIndex(ctx context.Context, db *sqlx.DB) bool {
	var n int
	err := db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'messages_fts'`)
	return err == nil && n > 0
}
