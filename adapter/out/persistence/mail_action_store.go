package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/google/uuid"
)

// =============================================================================
// Action Log Rows
// =============================================================================

type actionLogRow struct {
	ID          string         `db:"id"`
	AccountID   string         `db:"account_id"`
	MessageID   string         `db:"message_id"`
	ActionName  string         `db:"action_name"`
	Server      string         `db:"server"`
	Tool        string         `db:"tool"`
	Status      string         `db:"status"`
	Extracted   sql.NullString `db:"extracted"`
	Result      sql.NullString `db:"result"`
	Error       sql.NullString `db:"error"`
	Attempts    int            `db:"attempts"`
	ProcessedAt time.Time      `db:"processed_at"`
}

func (r *actionLogRow) toDomain() *domain.ActionLog {
	return &domain.ActionLog{
		ID:          r.ID,
		AccountID:   r.AccountID,
		MessageID:   r.MessageID,
		ActionName:  r.ActionName,
		Server:      r.Server,
		Tool:        r.Tool,
		Status:      r.Status,
		Extracted:   unmarshalMap(stringValue(r.Extracted)),
		Result:      unmarshalMap(stringValue(r.Result)),
		Error:       stringValue(r.Error),
		Attempts:    r.Attempts,
		ProcessedAt: r.ProcessedAt,
	}
}

// =============================================================================
// Action Log Operations
// =============================================================================

func (s *Store) SaveActionLog(ctx context.Context, log *domain.ActionLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.ProcessedAt.IsZero() {
		log.ProcessedAt = time.Now().UTC()
	}
	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO action_logs (
			id, account_id, message_id, action_name, server, tool,
			status, extracted, result, error, attempts, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.AccountID, log.MessageID, log.ActionName, log.Server, log.Tool,
		log.Status, marshalMap(log.Extracted), marshalMap(log.Result),
		log.Error, log.Attempts, log.ProcessedAt.UTC())
	if err != nil {
		return apperr.DatabaseError("save action log", err)
	}
	return nil
}

// CountActionAttempts counts real invocation attempts for a (message,
// action) pair. Skipped rows record why nothing ran and do not advance the
// counter.
func (s *Store) CountActionAttempts(ctx context.Context, messageID, actionName string) (int, error) {
	var count int
	err := s.ext.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM action_logs
		WHERE message_id = ? AND action_name = ? AND status <> ?`,
		messageID, actionName, domain.ActionStatusSkipped)
	if err != nil {
		return 0, apperr.DatabaseError("count action attempts", err)
	}
	return count, nil
}

func (s *Store) ListActionLogs(ctx context.Context, messageID string) ([]*domain.ActionLog, error) {
	var rows []actionLogRow
	err := s.ext.SelectContext(ctx, &rows, `
		SELECT * FROM action_logs
		WHERE message_id = ?
		ORDER BY processed_at DESC`, messageID)
	if err != nil {
		return nil, apperr.DatabaseError("list action logs", err)
	}
	logs := make([]*domain.ActionLog, len(rows))
	for i := range rows {
		logs[i] = rows[i].toDomain()
	}
	return logs, nil
}

// DeleteActionLogs clears a message's audit rows, which also resets its
// retry counters.
func (s *Store) DeleteActionLogs(ctx context.Context, messageID string) (int64, error) {
	res, err := s.ext.ExecContext(ctx, `DELETE FROM action_logs WHERE message_id = ?`, messageID)
	if err != nil {
		return 0, apperr.DatabaseError("delete action logs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
