// Package persistence implements the Store port on sqlite.
package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// =============================================================================
// Store
// =============================================================================

// execer is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx.
type execer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store implements out.Store. The zero db field marks a transactional
// session; WithTx on a session reuses the surrounding transaction.
type Store struct {
	db     *sqlx.DB
	ext    execer
	hasFTS bool
	log    zerolog.Logger
}

var _ out.Store = (*Store)(nil)

// NewStore wraps an opened database. hasFTS switches the text filter between
// the FTS index and LIKE.
func NewStore(db *sqlx.DB, hasFTS bool, log zerolog.Logger) *Store {
	return &Store{
		db:     db,
		ext:    db,
		hasFTS: hasFTS,
		log:    log.With().Str("component", "store").Logger(),
	}
}

// WithTx runs fn inside one transaction. Nested calls join the transaction
// already in flight.
func (s *Store) WithTx(ctx context.Context, fn func(out.Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin transaction", err)
	}

	session := &Store{ext: tx, hasFTS: s.hasFTS, log: s.log}
	if err := fn(session); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit transaction", err)
	}
	return nil
}

// inTx reports whether this Store is a transactional session.
func (s *Store) inTx() bool {
	return s.db == nil
}

// =============================================================================
// Row Helpers
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// marshalList encodes a string slice as the JSON text stored in list
// columns. nil encodes as "[]".
func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

// marshalMap encodes a settings or payload map as JSON text. nil encodes as
// "{}".
func marshalMap(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMap(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
