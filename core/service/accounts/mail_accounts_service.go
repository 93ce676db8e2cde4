// Package accounts reconciles the operator's account file with the Store
// and answers account reads for the control plane.
package accounts

import (
	"context"
	"fmt"
	"os"

	"github.com/kcalvelli/axios-ai-mail-sub000/config"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/in"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	store out.Store
	log   zerolog.Logger
}

func NewService(store out.Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("component", "accounts").Logger(),
	}
}

var _ in.AccountService = (*Service)(nil)

// =============================================================================
// Reads
// =============================================================================

func (s *Service) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	return s.store.ListAccounts(ctx)
}

func (s *Service) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.store.GetAccount(ctx, id)
}

func (s *Service) ListFailedOperations(ctx context.Context, accountID string) ([]*domain.PendingOperation, error) {
	return s.store.ListFailedOperations(ctx, accountID)
}

// =============================================================================
// Configuration sync
// =============================================================================

// ReconcileResult summarizes one pass over the accounts file.
type ReconcileResult struct {
	Created int
	Updated int
	Renamed int
}

// Reconcile upserts every configured account into the Store. When an address
// moves to a new account id, the old row is absorbed atomically and its
// messages follow.
func (s *Service) Reconcile(ctx context.Context, file *config.AccountsFile) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	for i := range file.Accounts {
		entry := &file.Accounts[i]
		s.checkCredentials(entry)
		status, err := s.syncEntry(ctx, entry)
		if err != nil {
			return result, err
		}
		switch status {
		case "created":
			result.Created++
		case "updated":
			result.Updated++
		case "renamed":
			result.Renamed++
		}
	}
	s.log.Info().
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("renamed", result.Renamed).
		Msg("accounts reconciled")
	return result, nil
}

// CleanupRemoved deletes accounts the file no longer mentions. The FK
// cascade takes their messages and queue rows, so this stays a separate,
// deliberate call rather than a Reconcile side effect.
func (s *Service) CleanupRemoved(ctx context.Context, file *config.AccountsFile) (int, error) {
	keep := make(map[string]bool, len(file.Accounts))
	for i := range file.Accounts {
		keep[file.Accounts[i].ID] = true
	}

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, account := range accounts {
		if keep[account.ID] {
			continue
		}
		if err := s.store.DeleteAccount(ctx, account.ID); err != nil {
			return removed, err
		}
		s.log.Warn().
			Str("account_id", account.ID).
			Str("email", account.Email).
			Msg("account left the configuration, local data deleted")
		removed++
	}
	return removed, nil
}

func (s *Service) syncEntry(ctx context.Context, entry *config.AccountEntry) (string, error) {
	account := &domain.Account{
		ID:       entry.ID,
		Name:     entry.Name,
		Email:    entry.Email,
		Provider: domain.Provider(entry.Provider),
		Settings: entry.Settings(),
	}

	owner, err := s.store.GetAccountByEmail(ctx, entry.Email)
	if err != nil && !apperr.IsCode(err, apperr.CodeNotFound) {
		return "", err
	}
	if owner != nil && owner.ID != entry.ID {
		if err := s.rename(ctx, owner, account); err != nil {
			return "", err
		}
		return "renamed", nil
	}

	_, err = s.store.GetAccount(ctx, entry.ID)
	switch {
	case err == nil:
		return "updated", s.store.SaveAccount(ctx, account)
	case apperr.IsCode(err, apperr.CodeAccountMissing):
		return "created", s.store.SaveAccount(ctx, account)
	default:
		return "", err
	}
}

// rename absorbs the owner row into the new account id without losing its
// mail. The owner's email moves to a sentinel first so the unique index
// never sees both rows claiming the address; the sync cursor carries over.
func (s *Service) rename(ctx context.Context, old *domain.Account, account *domain.Account) error {
	sentinel := fmt.Sprintf("renamed-%s@sentinel.invalid", uuid.NewString())
	var moved int64
	err := s.store.WithTx(ctx, func(tx out.Store) error {
		if err := tx.UpdateAccountEmail(ctx, old.ID, sentinel); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, account); err != nil {
			return err
		}
		if old.LastSync != nil {
			if err := tx.UpdateLastSync(ctx, account.ID, *old.LastSync); err != nil {
				return err
			}
		}
		var err error
		moved, err = tx.ReassignMessages(ctx, old.ID, account.ID)
		if err != nil {
			return err
		}
		return tx.DeleteAccount(ctx, old.ID)
	})
	if err != nil {
		return err
	}
	s.log.Info().
		Str("from", old.ID).
		Str("to", account.ID).
		Str("email", account.Email).
		Int64("messages", moved).
		Msg("account renamed")
	return nil
}

// checkCredentials warns early about credential files the providers will
// fail to read later. Reconciliation still proceeds; the file may appear
// before the first sync does.
func (s *Service) checkCredentials(entry *config.AccountEntry) {
	paths := map[string]string{}
	switch entry.Provider {
	case config.ProviderGmail:
		paths["credentials_file"] = entry.Gmail.CredentialsFile
	case config.ProviderIMAP:
		if entry.IMAP.PasswordFile != "" {
			paths["password_file"] = entry.IMAP.PasswordFile
		}
		if entry.IMAP.TokenFile != "" {
			paths["token_file"] = entry.IMAP.TokenFile
		}
	}
	for key, path := range paths {
		if _, err := os.Stat(path); err != nil {
			s.log.Warn().
				Str("account_id", entry.ID).
				Str(key, path).
				Msg("credential file is not readable yet")
		}
	}
}
