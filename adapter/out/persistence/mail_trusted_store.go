package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

// =============================================================================
// Trusted Sender Rows
// =============================================================================

type trustedSenderRow struct {
	ID        int64     `db:"id"`
	AccountID string    `db:"account_id"`
	Sender    string    `db:"sender"`
	CreatedAt time.Time `db:"created_at"`
}

type pushSubscriptionRow struct {
	ID        int64     `db:"id"`
	Endpoint  string    `db:"endpoint"`
	P256dh    string    `db:"p256dh"`
	Auth      string    `db:"auth"`
	CreatedAt time.Time `db:"created_at"`
}

// normalizeSender canonicalizes an address for allow-list matching.
func normalizeSender(sender string) string {
	return strings.ToLower(strings.TrimSpace(sender))
}

// =============================================================================
// Trusted Sender Operations
// =============================================================================

func (s *Store) AddTrustedSender(ctx context.Context, accountID, sender string) error {
	sender = normalizeSender(sender)
	if sender == "" {
		return apperr.InvalidInput("sender", "must not be empty")
	}
	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO trusted_senders (account_id, sender, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, sender) DO NOTHING`,
		accountID, sender, time.Now().UTC())
	if err != nil {
		return apperr.DatabaseError("add trusted sender", err)
	}
	return nil
}

func (s *Store) RemoveTrustedSender(ctx context.Context, accountID, sender string) error {
	_, err := s.ext.ExecContext(ctx, `
		DELETE FROM trusted_senders WHERE account_id = ? AND sender = ?`,
		accountID, normalizeSender(sender))
	if err != nil {
		return apperr.DatabaseError("remove trusted sender", err)
	}
	return nil
}

func (s *Store) ListTrustedSenders(ctx context.Context, accountID string) ([]*domain.TrustedSender, error) {
	var rows []trustedSenderRow
	err := s.ext.SelectContext(ctx, &rows, `
		SELECT * FROM trusted_senders
		WHERE account_id = ?
		ORDER BY sender ASC`, accountID)
	if err != nil {
		return nil, apperr.DatabaseError("list trusted senders", err)
	}
	senders := make([]*domain.TrustedSender, len(rows))
	for i := range rows {
		senders[i] = &domain.TrustedSender{
			ID:        rows[i].ID,
			AccountID: rows[i].AccountID,
			Sender:    rows[i].Sender,
			CreatedAt: rows[i].CreatedAt,
		}
	}
	return senders, nil
}

func (s *Store) IsTrustedSender(ctx context.Context, accountID, sender string) (bool, error) {
	var count int
	err := s.ext.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM trusted_senders
		WHERE account_id = ? AND sender = ?`,
		accountID, normalizeSender(sender))
	if err != nil {
		return false, apperr.DatabaseError("check trusted sender", err)
	}
	return count > 0, nil
}

// =============================================================================
// Push Subscription Operations
// =============================================================================

func (s *Store) SavePushSubscription(ctx context.Context, sub *domain.PushSubscription) error {
	if sub.Endpoint == "" {
		return apperr.InvalidInput("endpoint", "must not be empty")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, p256dh, auth, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth`,
		sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt.UTC())
	if err != nil {
		return apperr.DatabaseError("save push subscription", err)
	}
	return nil
}

func (s *Store) ListPushSubscriptions(ctx context.Context) ([]*domain.PushSubscription, error) {
	var rows []pushSubscriptionRow
	err := s.ext.SelectContext(ctx, &rows, `SELECT * FROM push_subscriptions ORDER BY id ASC`)
	if err != nil {
		return nil, apperr.DatabaseError("list push subscriptions", err)
	}
	subs := make([]*domain.PushSubscription, len(rows))
	for i := range rows {
		subs[i] = &domain.PushSubscription{
			ID:        rows[i].ID,
			Endpoint:  rows[i].Endpoint,
			P256dh:    rows[i].P256dh,
			Auth:      rows[i].Auth,
			CreatedAt: rows[i].CreatedAt,
		}
	}
	return subs, nil
}

func (s *Store) DeletePushSubscription(ctx context.Context, endpoint string) error {
	_, err := s.ext.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return apperr.DatabaseError("delete push subscription", err)
	}
	return nil
}
