package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

// =============================================================================
// Account Rows
// =============================================================================

type accountRow struct {
	ID        string       `db:"id"`
	Name      string       `db:"name"`
	Email     string       `db:"email"`
	Provider  string       `db:"provider"`
	Settings  string       `db:"settings"`
	LastSync  sql.NullTime `db:"last_sync"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
}

func (r *accountRow) toDomain() *domain.Account {
	return &domain.Account{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		Provider:  domain.Provider(r.Provider),
		Settings:  unmarshalMap(r.Settings),
		LastSync:  timePtr(r.LastSync),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// =============================================================================
// Account Operations
// =============================================================================

func (s *Store) SaveAccount(ctx context.Context, account *domain.Account) error {
	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO accounts (id, name, email, provider, settings)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			provider = excluded.provider,
			settings = excluded.settings,
			updated_at = CURRENT_TIMESTAMP`,
		account.ID, account.Name, account.Email, string(account.Provider),
		marshalMap(account.Settings))
	if err != nil {
		return apperr.DatabaseError("save account", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var row accountRow
	err := s.ext.GetContext(ctx, &row, `SELECT * FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.AccountMissing(id)
	}
	if err != nil {
		return nil, apperr.DatabaseError("get account", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var row accountRow
	err := s.ext.GetContext(ctx, &row, `SELECT * FROM accounts WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("account")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get account by email", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	var rows []accountRow
	if err := s.ext.SelectContext(ctx, &rows, `SELECT * FROM accounts ORDER BY id`); err != nil {
		return nil, apperr.DatabaseError("list accounts", err)
	}
	accounts := make([]*domain.Account, len(rows))
	for i := range rows {
		accounts[i] = rows[i].toDomain()
	}
	return accounts, nil
}

func (s *Store) UpdateAccountEmail(ctx context.Context, id, email string) error {
	res, err := s.ext.ExecContext(ctx, `
		UPDATE accounts SET email = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		email, id)
	if err != nil {
		return apperr.DatabaseError("update account email", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.AccountMissing(id)
	}
	return nil
}

func (s *Store) UpdateLastSync(ctx context.Context, id string, at time.Time) error {
	_, err := s.ext.ExecContext(ctx, `
		UPDATE accounts SET last_sync = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at.UTC(), id)
	if err != nil {
		return apperr.DatabaseError("update last sync", err)
	}
	return nil
}

func (s *Store) ReassignMessages(ctx context.Context, fromAccountID, toAccountID string) (int64, error) {
	res, err := s.ext.ExecContext(ctx, `
		UPDATE messages SET account_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ?`,
		toAccountID, fromAccountID)
	if err != nil {
		return 0, apperr.DatabaseError("reassign messages", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	// FK cascade removes messages, drafts, feedback, queue rows.
	_, err := s.ext.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return apperr.DatabaseError("delete account", err)
	}
	return nil
}
