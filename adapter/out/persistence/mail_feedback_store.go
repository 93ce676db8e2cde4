package persistence

import (
	"context"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Feedback Rows
// =============================================================================

type feedbackRow struct {
	ID             string    `db:"id"`
	AccountID      string    `db:"account_id"`
	MessageID      string    `db:"message_id"`
	SenderDomain   string    `db:"sender_domain"`
	SubjectPattern string    `db:"subject_pattern"`
	OriginalTags   string    `db:"original_tags"`
	CorrectedTags  string    `db:"corrected_tags"`
	Context        string    `db:"context"`
	CorrectedAt    time.Time `db:"corrected_at"`
	UseCount       int       `db:"use_count"`
}

func (r *feedbackRow) toDomain() *domain.Feedback {
	return &domain.Feedback{
		ID:             r.ID,
		AccountID:      r.AccountID,
		MessageID:      r.MessageID,
		SenderDomain:   r.SenderDomain,
		SubjectPattern: r.SubjectPattern,
		OriginalTags:   unmarshalList(r.OriginalTags),
		CorrectedTags:  unmarshalList(r.CorrectedTags),
		Context:        r.Context,
		CorrectedAt:    r.CorrectedAt,
		UseCount:       r.UseCount,
	}
}

// =============================================================================
// Feedback Operations
// =============================================================================

func (s *Store) RecordFeedback(ctx context.Context, f *domain.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CorrectedAt.IsZero() {
		f.CorrectedAt = time.Now().UTC()
	}
	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO feedback (
			id, account_id, message_id, sender_domain, subject_pattern,
			original_tags, corrected_tags, context, corrected_at, use_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		f.ID, f.AccountID, f.MessageID, f.SenderDomain, f.SubjectPattern,
		marshalList(f.OriginalTags), marshalList(f.CorrectedTags),
		f.Context, f.CorrectedAt.UTC())
	if err != nil {
		return apperr.DatabaseError("record feedback", err)
	}
	return nil
}

// RelevantFeedback returns up to min(3, n) recent corrections for the
// sender's domain, filling the remainder from the account's other recent
// corrections. use_count is bumped on every returned row in the same
// transaction as the read.
func (s *Store) RelevantFeedback(ctx context.Context, accountID, senderDomain string, n int) ([]*domain.Feedback, error) {
	if n <= 0 {
		return nil, nil
	}
	if !s.inTx() {
		var result []*domain.Feedback
		err := s.WithTx(ctx, func(tx out.Store) error {
			var err error
			result, err = tx.RelevantFeedback(ctx, accountID, senderDomain, n)
			return err
		})
		return result, err
	}

	domainQuota := n
	if domainQuota > 3 {
		domainQuota = 3
	}

	var rows []feedbackRow
	if senderDomain != "" {
		err := s.ext.SelectContext(ctx, &rows, `
			SELECT * FROM feedback
			WHERE account_id = ? AND sender_domain = ?
			ORDER BY corrected_at DESC
			LIMIT ?`, accountID, senderDomain, domainQuota)
		if err != nil {
			return nil, apperr.DatabaseError("load domain feedback", err)
		}
	}

	if remaining := n - len(rows); remaining > 0 {
		exclude := make([]string, 0, len(rows)+1)
		exclude = append(exclude, "") // keep IN () non-empty
		for _, r := range rows {
			exclude = append(exclude, r.ID)
		}
		query, args, err := sqlx.In(`
			SELECT * FROM feedback
			WHERE account_id = ? AND id NOT IN (?)
			ORDER BY corrected_at DESC
			LIMIT ?`, accountID, exclude, remaining)
		if err != nil {
			return nil, apperr.DatabaseError("build feedback fill", err)
		}
		var fill []feedbackRow
		if err := s.ext.SelectContext(ctx, &fill, query, args...); err != nil {
			return nil, apperr.DatabaseError("load fill feedback", err)
		}
		rows = append(rows, fill...)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	query, args, err := sqlx.In(`UPDATE feedback SET use_count = use_count + 1 WHERE id IN (?)`, ids)
	if err != nil {
		return nil, apperr.DatabaseError("build use_count bump", err)
	}
	if _, err := s.ext.ExecContext(ctx, query, args...); err != nil {
		return nil, apperr.DatabaseError("bump use_count", err)
	}

	out := make([]*domain.Feedback, len(rows))
	for i := range rows {
		f := rows[i].toDomain()
		f.UseCount++
		out[i] = f
	}
	return out, nil
}

// CleanupFeedback deletes rows older than maxAge, then trims each account
// to perAccountCap rows keeping the newest.
func (s *Store) CleanupFeedback(ctx context.Context, maxAge time.Duration, perAccountCap int) (int64, error) {
	var total int64

	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.ext.ExecContext(ctx, `DELETE FROM feedback WHERE corrected_at < ?`, cutoff)
	if err != nil {
		return 0, apperr.DatabaseError("cleanup feedback by age", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		total += n
	}

	if perAccountCap > 0 {
		res, err = s.ext.ExecContext(ctx, `
			DELETE FROM feedback WHERE id IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (
						PARTITION BY account_id ORDER BY corrected_at DESC
					) AS rn
					FROM feedback
				) WHERE rn > ?
			)`, perAccountCap)
		if err != nil {
			return total, apperr.DatabaseError("cleanup feedback by cap", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			total += n
		}
	}

	return total, nil
}
