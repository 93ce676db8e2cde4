package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/google/uuid"
)

// =============================================================================
// Draft Rows
// =============================================================================

type draftRow struct {
	ID        string         `db:"id"`
	AccountID string         `db:"account_id"`
	ToAddrs   string         `db:"to_addrs"`
	CcAddrs   string         `db:"cc_addrs"`
	BccAddrs  string         `db:"bcc_addrs"`
	Subject   string         `db:"subject"`
	BodyText  sql.NullString `db:"body_text"`
	BodyHTML  sql.NullString `db:"body_html"`
	ThreadID  string         `db:"thread_id"`
	ReplyToID string         `db:"reply_to_id"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r *draftRow) toDomain() *domain.Draft {
	return &domain.Draft{
		ID:        r.ID,
		AccountID: r.AccountID,
		To:        unmarshalList(r.ToAddrs),
		Cc:        unmarshalList(r.CcAddrs),
		Bcc:       unmarshalList(r.BccAddrs),
		Subject:   r.Subject,
		BodyText:  stringValue(r.BodyText),
		BodyHTML:  stringValue(r.BodyHTML),
		ThreadID:  r.ThreadID,
		ReplyToID: r.ReplyToID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type attachmentRow struct {
	ID        string         `db:"id"`
	DraftID   sql.NullString `db:"draft_id"`
	MessageID sql.NullString `db:"message_id"`
	Filename  string         `db:"filename"`
	MimeType  string         `db:"mime_type"`
	Size      int64          `db:"size"`
	Data      []byte         `db:"data"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r *attachmentRow) toDomain() *domain.Attachment {
	return &domain.Attachment{
		ID:        r.ID,
		DraftID:   stringValue(r.DraftID),
		MessageID: stringValue(r.MessageID),
		Filename:  r.Filename,
		MimeType:  r.MimeType,
		Size:      r.Size,
		Data:      r.Data,
		CreatedAt: r.CreatedAt,
	}
}

// =============================================================================
// Draft Operations
// =============================================================================

func (s *Store) SaveDraft(ctx context.Context, draft *domain.Draft) error {
	now := time.Now().UTC()
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO drafts (
			id, account_id, to_addrs, cc_addrs, bcc_addrs, subject,
			body_text, body_html, thread_id, reply_to_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			to_addrs = excluded.to_addrs,
			cc_addrs = excluded.cc_addrs,
			bcc_addrs = excluded.bcc_addrs,
			subject = excluded.subject,
			body_text = excluded.body_text,
			body_html = excluded.body_html,
			thread_id = excluded.thread_id,
			reply_to_id = excluded.reply_to_id,
			updated_at = excluded.updated_at`,
		draft.ID, draft.AccountID,
		marshalList(draft.To), marshalList(draft.Cc), marshalList(draft.Bcc),
		draft.Subject, nullString(draft.BodyText), nullString(draft.BodyHTML),
		draft.ThreadID, draft.ReplyToID, draft.CreatedAt.UTC(), draft.UpdatedAt.UTC())
	if err != nil {
		return apperr.DatabaseError("save draft", err)
	}
	return nil
}

func (s *Store) GetDraft(ctx context.Context, id string) (*domain.Draft, error) {
	var row draftRow
	err := s.ext.GetContext(ctx, &row, `SELECT * FROM drafts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("draft")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get draft", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListDrafts(ctx context.Context, accountID string) ([]*domain.Draft, error) {
	var rows []draftRow
	err := s.ext.SelectContext(ctx, &rows, `
		SELECT * FROM drafts
		WHERE account_id = ?
		ORDER BY updated_at DESC`, accountID)
	if err != nil {
		return nil, apperr.DatabaseError("list drafts", err)
	}
	drafts := make([]*domain.Draft, len(rows))
	for i := range rows {
		drafts[i] = rows[i].toDomain()
	}
	return drafts, nil
}

// DeleteDraft removes the draft; its attachments go with it via the FK
// cascade.
func (s *Store) DeleteDraft(ctx context.Context, id string) error {
	res, err := s.ext.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return apperr.DatabaseError("delete draft", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("draft")
	}
	return nil
}

// =============================================================================
// Attachment Operations
// =============================================================================

func (s *Store) SaveAttachment(ctx context.Context, a *domain.Attachment) error {
	if (a.DraftID == "") == (a.MessageID == "") {
		return apperr.InvalidInput("attachment", "must belong to exactly one draft or message")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Size == 0 {
		a.Size = int64(len(a.Data))
	}
	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO attachments (id, draft_id, message_id, filename, mime_type, size, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, nullString(a.DraftID), nullString(a.MessageID),
		a.Filename, a.MimeType, a.Size, a.Data, a.CreatedAt.UTC())
	if err != nil {
		return apperr.DatabaseError("save attachment", err)
	}
	return nil
}

func (s *Store) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	var row attachmentRow
	err := s.ext.GetContext(ctx, &row, `SELECT * FROM attachments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("attachment")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get attachment", err)
	}
	return row.toDomain(), nil
}

// ListDraftAttachments returns metadata only; fetch a single attachment for
// its bytes.
func (s *Store) ListDraftAttachments(ctx context.Context, draftID string) ([]*domain.Attachment, error) {
	return s.listAttachments(ctx, "draft_id", draftID)
}

func (s *Store) ListMessageAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	return s.listAttachments(ctx, "message_id", messageID)
}

func (s *Store) listAttachments(ctx context.Context, ownerCol, ownerID string) ([]*domain.Attachment, error) {
	var rows []attachmentRow
	err := s.ext.SelectContext(ctx, &rows, `
		SELECT id, draft_id, message_id, filename, mime_type, size, created_at
		FROM attachments
		WHERE `+ownerCol+` = ?
		ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, apperr.DatabaseError("list attachments", err)
	}
	attachments := make([]*domain.Attachment, len(rows))
	for i := range rows {
		attachments[i] = rows[i].toDomain()
	}
	return attachments, nil
}

func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	res, err := s.ext.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id)
	if err != nil {
		return apperr.DatabaseError("delete attachment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("attachment")
	}
	return nil
}
