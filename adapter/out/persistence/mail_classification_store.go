package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Classification Rows
// =============================================================================

type classificationRow struct {
	MessageID      string    `db:"message_id"`
	Tags           string    `db:"tags"`
	Priority       string    `db:"priority"`
	ActionRequired bool      `db:"action_required"`
	CanArchive     bool      `db:"can_archive"`
	ModelName      string    `db:"model_name"`
	Confidence     float64   `db:"confidence"`
	ClassifiedAt   time.Time `db:"classified_at"`
}

func (r *classificationRow) toDomain() *domain.Classification {
	return &domain.Classification{
		MessageID:      r.MessageID,
		Tags:           unmarshalList(r.Tags),
		Priority:       r.Priority,
		ActionRequired: r.ActionRequired,
		CanArchive:     r.CanArchive,
		ModelName:      r.ModelName,
		Confidence:     r.Confidence,
		ClassifiedAt:   r.ClassifiedAt,
	}
}

// =============================================================================
// Classification Operations
// =============================================================================

func (s *Store) SaveClassification(ctx context.Context, c *domain.Classification) error {
	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO classifications (
			message_id, tags, priority, action_required, can_archive,
			model_name, confidence, classified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			tags = excluded.tags,
			priority = excluded.priority,
			action_required = excluded.action_required,
			can_archive = excluded.can_archive,
			model_name = excluded.model_name,
			confidence = excluded.confidence,
			classified_at = excluded.classified_at`,
		c.MessageID, marshalList(c.Tags), c.Priority, c.ActionRequired,
		c.CanArchive, c.ModelName, c.Confidence, c.ClassifiedAt.UTC())
	if err != nil {
		return apperr.DatabaseError("save classification", err)
	}
	return nil
}

func (s *Store) GetClassification(ctx context.Context, messageID string) (*domain.Classification, error) {
	var row classificationRow
	err := s.ext.GetContext(ctx, &row,
		`SELECT * FROM classifications WHERE message_id = ?`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("classification")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get classification", err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateClassificationTags(ctx context.Context, messageID string, tags []string) error {
	_, err := s.ext.ExecContext(ctx, `
		UPDATE classifications SET tags = ? WHERE message_id = ?`,
		marshalList(tags), messageID)
	if err != nil {
		return apperr.DatabaseError("update classification tags", err)
	}
	return nil
}

// ListClassifiedWithTags returns messages of one account whose
// classification carries any of the given tags.
func (s *Store) ListClassifiedWithTags(ctx context.Context, accountID string, tags []string) ([]*domain.ClassifiedMessage, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT c.* FROM classifications c
		JOIN messages m ON m.id = c.message_id
		WHERE m.account_id = ?
		  AND EXISTS (SELECT 1 FROM json_each(c.tags) jt WHERE jt.value IN (?))
		ORDER BY m.date DESC`, accountID, tags)
	if err != nil {
		return nil, apperr.DatabaseError("build tag scan", err)
	}

	var crows []classificationRow
	if err := s.ext.SelectContext(ctx, &crows, query, args...); err != nil {
		return nil, apperr.DatabaseError("scan classified tags", err)
	}
	if len(crows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(crows))
	for i := range crows {
		ids[i] = crows[i].MessageID
	}
	query, args, err = sqlx.In(`SELECT * FROM messages WHERE id IN (?)`, ids)
	if err != nil {
		return nil, apperr.DatabaseError("build message batch", err)
	}
	var mrows []messageRow
	if err := s.ext.SelectContext(ctx, &mrows, query, args...); err != nil {
		return nil, apperr.DatabaseError("load classified messages", err)
	}

	byID := make(map[string]*domain.Message, len(mrows))
	for i := range mrows {
		m := mrows[i].toDomain()
		byID[m.ID] = m
	}

	pairs := make([]*domain.ClassifiedMessage, 0, len(crows))
	for i := range crows {
		c := crows[i].toDomain()
		if m, ok := byID[c.MessageID]; ok {
			pairs = append(pairs, &domain.ClassifiedMessage{Message: m, Classification: c})
		}
	}
	return pairs, nil
}
