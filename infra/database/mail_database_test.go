package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestOpenAppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail.db")

	db, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	tables := []string{
		"accounts", "messages", "classifications", "feedback",
		"drafts", "attachments", "pending_operations", "action_logs",
		"trusted_senders", "push_subscriptions", "schema_migrations",
	}
	for _, table := range tables {
		var n int
		err := db.GetContext(ctx, &n,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		if err != nil {
			t.Fatalf("probe %s: %v", table, err)
		}
		if n != 1 {
			t.Errorf("table %s missing after migration", table)
		}
	}

	var version int
	if err := db.GetContext(ctx, &version, `SELECT MAX(version) FROM schema_migrations`); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail.db")

	db, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	db.Close()

	db, err = Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM schema_migrations`); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("migrations recorded %d times, want %d", count, len(migrations))
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail.db")

	db, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		INSERT INTO messages (id, account_id, date)
		VALUES ('ghost:INBOX:1', 'no-such-account', CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Fatal("insert with dangling account_id should fail")
	}
}
