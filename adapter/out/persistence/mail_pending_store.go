package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

// =============================================================================
// Pending Operation Rows
// =============================================================================

type pendingOpRow struct {
	ID          int64          `db:"id"`
	AccountID   string         `db:"account_id"`
	MessageID   string         `db:"message_id"`
	Operation   string         `db:"operation"`
	Attempts    int            `db:"attempts"`
	LastAttempt sql.NullTime   `db:"last_attempt"`
	LastError   sql.NullString `db:"last_error"`
	Status      string         `db:"status"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r *pendingOpRow) toDomain() *domain.PendingOperation {
	return &domain.PendingOperation{
		ID:          r.ID,
		AccountID:   r.AccountID,
		MessageID:   r.MessageID,
		Operation:   r.Operation,
		Attempts:    r.Attempts,
		LastAttempt: timePtr(r.LastAttempt),
		LastError:   stringValue(r.LastError),
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
	}
}

// =============================================================================
// Pending Operation Queue
// =============================================================================

// EnqueuePending records a provider echo for a local mutation. Two rules
// keep the queue minimal: an opposite pending operation for the same message
// cancels out with the new one (both disappear), and an identical pending
// operation makes the enqueue a no-op.
func (s *Store) EnqueuePending(ctx context.Context, accountID, messageID, operation string) error {
	if !domain.IsValidOperation(operation) {
		return apperr.InvalidInput("operation", "unknown operation "+operation)
	}
	if !s.inTx() {
		return s.WithTx(ctx, func(tx out.Store) error {
			return tx.EnqueuePending(ctx, accountID, messageID, operation)
		})
	}

	if opposite := domain.OppositeOperation(operation); opposite != "" {
		res, err := s.ext.ExecContext(ctx, `
			DELETE FROM pending_operations
			WHERE account_id = ? AND message_id = ? AND operation = ? AND status = ?`,
			accountID, messageID, opposite, domain.OpStatusPending)
		if err != nil {
			return apperr.DatabaseError("cancel opposite operation", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.log.Debug().
				Str("message_id", messageID).
				Str("operation", operation).
				Str("cancelled", opposite).
				Msg("pending operations cancelled out")
			return nil
		}
	}

	var count int
	err := s.ext.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM pending_operations
		WHERE account_id = ? AND message_id = ? AND operation = ? AND status = ?`,
		accountID, messageID, operation, domain.OpStatusPending)
	if err != nil {
		return apperr.DatabaseError("check duplicate operation", err)
	}
	if count > 0 {
		return nil
	}

	_, err = s.ext.ExecContext(ctx, `
		INSERT INTO pending_operations (account_id, message_id, operation, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		accountID, messageID, operation, domain.OpStatusPending, time.Now().UTC())
	if err != nil {
		return apperr.DatabaseError("enqueue operation", err)
	}
	return nil
}

// DequeuePending returns the oldest pending operations for an account in
// FIFO order. Rows stay pending until completed or failed.
func (s *Store) DequeuePending(ctx context.Context, accountID string, limit int) ([]*domain.PendingOperation, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []pendingOpRow
	err := s.ext.SelectContext(ctx, &rows, `
		SELECT * FROM pending_operations
		WHERE account_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, accountID, domain.OpStatusPending, limit)
	if err != nil {
		return nil, apperr.DatabaseError("dequeue operations", err)
	}
	ops := make([]*domain.PendingOperation, len(rows))
	for i := range rows {
		ops[i] = rows[i].toDomain()
	}
	return ops, nil
}

func (s *Store) CompletePending(ctx context.Context, id int64) error {
	_, err := s.ext.ExecContext(ctx, `
		UPDATE pending_operations SET status = ?, last_attempt = ?
		WHERE id = ?`, domain.OpStatusCompleted, time.Now().UTC(), id)
	if err != nil {
		return apperr.DatabaseError("complete operation", err)
	}
	return nil
}

// FailPending advances the attempt counter and records the error. When the
// counter reaches maxAttempts the row flips to failed and leaves the active
// queue.
func (s *Store) FailPending(ctx context.Context, id int64, lastError string, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = domain.MaxOperationAttempts
	}
	_, err := s.ext.ExecContext(ctx, `
		UPDATE pending_operations
		SET attempts = attempts + 1,
		    last_attempt = ?,
		    last_error = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END
		WHERE id = ?`,
		time.Now().UTC(), lastError, maxAttempts,
		domain.OpStatusFailed, domain.OpStatusPending, id)
	if err != nil {
		return apperr.DatabaseError("fail operation", err)
	}
	return nil
}

func (s *Store) ListFailedOperations(ctx context.Context, accountID string) ([]*domain.PendingOperation, error) {
	var rows []pendingOpRow
	err := s.ext.SelectContext(ctx, &rows, `
		SELECT * FROM pending_operations
		WHERE account_id = ? AND status = ?
		ORDER BY last_attempt DESC`, accountID, domain.OpStatusFailed)
	if err != nil {
		return nil, apperr.DatabaseError("list failed operations", err)
	}
	ops := make([]*domain.PendingOperation, len(rows))
	for i := range rows {
		ops[i] = rows[i].toDomain()
	}
	return ops, nil
}
