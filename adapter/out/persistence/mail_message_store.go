package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Message Rows
// =============================================================================

type messageRow struct {
	ID             string         `db:"id"`
	AccountID      string         `db:"account_id"`
	ThreadID       string         `db:"thread_id"`
	Subject        string         `db:"subject"`
	FromAddr       string         `db:"from_addr"`
	ToAddrs        string         `db:"to_addrs"`
	Date           time.Time      `db:"date"`
	Snippet        string         `db:"snippet"`
	IsUnread       bool           `db:"is_unread"`
	Labels         string         `db:"labels"`
	Folder         string         `db:"folder"`
	OriginalFolder sql.NullString `db:"original_folder"`
	ProviderFolder string         `db:"provider_folder"`
	BodyText       sql.NullString `db:"body_text"`
	BodyHTML       sql.NullString `db:"body_html"`
	HasAttachments bool           `db:"has_attachments"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *messageRow) toDomain() *domain.Message {
	return &domain.Message{
		ID:             r.ID,
		AccountID:      r.AccountID,
		ThreadID:       r.ThreadID,
		Subject:        r.Subject,
		From:           r.FromAddr,
		To:             unmarshalList(r.ToAddrs),
		Date:           r.Date,
		Snippet:        r.Snippet,
		IsUnread:       r.IsUnread,
		Labels:         unmarshalList(r.Labels),
		Folder:         r.Folder,
		OriginalFolder: stringValue(r.OriginalFolder),
		ProviderFolder: r.ProviderFolder,
		BodyText:       stringValue(r.BodyText),
		BodyHTML:       stringValue(r.BodyHTML),
		HasBody:        r.BodyText.Valid || r.BodyHTML.Valid,
		HasAttachments: r.HasAttachments,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func messageRowsToDomain(rows []messageRow) []*domain.Message {
	messages := make([]*domain.Message, len(rows))
	for i := range rows {
		messages[i] = rows[i].toDomain()
	}
	return messages
}

// =============================================================================
// Message Operations
// =============================================================================

// UpsertMessage inserts a new row with full provider state. On conflict it
// refreshes provider-owned fields only; folder, is_unread, original_folder
// and bodies stay local.
func (s *Store) UpsertMessage(ctx context.Context, m *domain.Message) error {
	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO messages (
			id, account_id, thread_id, subject, from_addr, to_addrs, date,
			snippet, is_unread, labels, folder, original_folder,
			provider_folder, body_text, body_html, has_attachments
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			thread_id = excluded.thread_id,
			subject = excluded.subject,
			from_addr = excluded.from_addr,
			to_addrs = excluded.to_addrs,
			date = excluded.date,
			snippet = excluded.snippet,
			labels = excluded.labels,
			provider_folder = excluded.provider_folder,
			has_attachments = excluded.has_attachments,
			updated_at = CURRENT_TIMESTAMP`,
		m.ID, m.AccountID, m.ThreadID, m.Subject, m.From,
		marshalList(m.To), m.Date.UTC(), m.Snippet, m.IsUnread,
		marshalList(m.Labels), m.Folder, nullString(m.OriginalFolder),
		m.ProviderFolder, nullString(m.BodyText), nullString(m.BodyHTML),
		m.HasAttachments)
	if err != nil {
		return apperr.DatabaseError("upsert message", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var row messageRow
	err := s.ext.GetContext(ctx, &row, `SELECT * FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("message")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get message", err)
	}
	return row.toDomain(), nil
}

func (s *Store) QueryMessages(ctx context.Context, filter *domain.MessageFilter) ([]*domain.Message, error) {
	if filter == nil {
		filter = &domain.MessageFilter{}
	}

	query := `SELECT m.* FROM messages m WHERE 1=1`
	args := []interface{}{}

	if filter.AccountID != "" {
		query += ` AND m.account_id = ?`
		args = append(args, filter.AccountID)
	}
	if filter.Folder != "" {
		query += ` AND m.folder = ?`
		args = append(args, filter.Folder)
	}
	if filter.Unread != nil {
		query += ` AND m.is_unread = ?`
		args = append(args, *filter.Unread)
	}
	if filter.ThreadID != "" {
		query += ` AND m.thread_id = ?`
		args = append(args, filter.ThreadID)
	}

	if len(filter.Tags) > 0 {
		// Entries containing "@" are account-email pseudo-tags; the rest
		// join through the stored classification.
		var tags, emails []string
		for _, t := range filter.Tags {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			if strings.Contains(t, "@") {
				emails = append(emails, t)
			} else {
				tags = append(tags, t)
			}
		}

		var parts []string
		if len(tags) > 0 {
			sub, subArgs, err := sqlx.In(`EXISTS (
				SELECT 1 FROM classifications c, json_each(c.tags) jt
				WHERE c.message_id = m.id AND jt.value IN (?))`, tags)
			if err != nil {
				return nil, apperr.DatabaseError("build tag filter", err)
			}
			parts = append(parts, sub)
			args = append(args, subArgs...)
		}
		if len(emails) > 0 {
			sub, subArgs, err := sqlx.In(
				`m.account_id IN (SELECT id FROM accounts WHERE email IN (?))`, emails)
			if err != nil {
				return nil, apperr.DatabaseError("build account filter", err)
			}
			parts = append(parts, sub)
			args = append(args, subArgs...)
		}
		if len(parts) > 0 {
			query += ` AND (` + strings.Join(parts, " OR ") + `)`
		}
	}

	if text := strings.TrimSpace(filter.Text); text != "" {
		if s.hasFTS {
			query += ` AND m.rowid IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?)`
			args = append(args, ftsQuote(text))
		} else {
			pattern := "%" + escapeLike(text) + "%"
			query += ` AND (m.subject LIKE ? ESCAPE '\' OR m.from_addr LIKE ? ESCAPE '\' OR m.snippet LIKE ? ESCAPE '\')`
			args = append(args, pattern, pattern, pattern)
		}
	}

	query += ` ORDER BY m.date DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	var rows []messageRow
	if err := s.ext.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.DatabaseError("query messages", err)
	}
	return messageRowsToDomain(rows), nil
}

func (s *Store) ListUnclassified(ctx context.Context, accountID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []messageRow
	err := s.ext.SelectContext(ctx, &rows, `
		SELECT m.* FROM messages m
		LEFT JOIN classifications c ON c.message_id = m.id
		WHERE m.account_id = ? AND c.message_id IS NULL
		ORDER BY m.date DESC
		LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, apperr.DatabaseError("list unclassified", err)
	}
	return messageRowsToDomain(rows), nil
}

func (s *Store) UpdateMessageRead(ctx context.Context, id string, unread bool) error {
	_, err := s.ext.ExecContext(ctx, `
		UPDATE messages SET is_unread = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		unread, id)
	if err != nil {
		return apperr.DatabaseError("update message read", err)
	}
	return nil
}

func (s *Store) UpdateMessageBody(ctx context.Context, id, text, html string) error {
	_, err := s.ext.ExecContext(ctx, `
		UPDATE messages SET body_text = ?, body_html = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		nullString(text), nullString(html), id)
	if err != nil {
		return apperr.DatabaseError("update message body", err)
	}
	return nil
}

// MoveToTrash saves the current folder and flips to trash. Calling it on a
// trashed message changes nothing.
func (s *Store) MoveToTrash(ctx context.Context, id string) error {
	_, err := s.ext.ExecContext(ctx, `
		UPDATE messages
		SET original_folder = folder, folder = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND folder <> ?`,
		domain.FolderTrash, id, domain.FolderTrash)
	if err != nil {
		return apperr.DatabaseError("move to trash", err)
	}
	return nil
}

// RestoreFromTrash returns a trashed message to its original folder, inbox
// when none was recorded. Messages outside trash are left alone.
func (s *Store) RestoreFromTrash(ctx context.Context, id string) error {
	_, err := s.ext.ExecContext(ctx, `
		UPDATE messages
		SET folder = CASE
				WHEN original_folder IS NULL OR original_folder = '' THEN ?
				ELSE original_folder
			END,
			original_folder = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND folder = ?`,
		domain.FolderInbox, id, domain.FolderTrash)
	if err != nil {
		return apperr.DatabaseError("restore from trash", err)
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	// Classification and attachments cascade through FKs.
	_, err := s.ext.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return apperr.DatabaseError("delete message", err)
	}
	return nil
}

// ftsQuote wraps user text as one quoted FTS5 phrase so query syntax inside
// it stays inert.
func ftsQuote(text string) string {
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

func escapeLike(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	text = strings.ReplaceAll(text, `%`, `\%`)
	return strings.ReplaceAll(text, `_`, `\_`)
}
