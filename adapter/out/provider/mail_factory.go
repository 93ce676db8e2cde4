// Package provider implements the mail provider adapters: the Gmail API
// variant, the IMAP/SMTP variant, the shared connection pool and the IDLE
// watcher.
package provider

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/credentials"
)

// Factory builds the provider matching an account's configured kind. IMAP
// providers share one connection pool so repeated builds for the same account
// reuse its live session.
type Factory struct {
	creds *credentials.Loader
	pool  *Pool
	log   zerolog.Logger
}

func NewFactory(creds *credentials.Loader, pool *Pool, log zerolog.Logger) *Factory {
	return &Factory{
		creds: creds,
		pool:  pool,
		log:   log.With().Str("component", "provider").Logger(),
	}
}

// Create builds an unauthenticated provider for the account. Callers must
// Authenticate before first use and Close when done.
func (f *Factory) Create(ctx context.Context, account *domain.Account) (out.MailProvider, error) {
	switch account.Provider {
	case domain.ProviderGmail:
		return NewGmailProvider(account, f.creds, f.log), nil
	case domain.ProviderIMAP:
		return NewIMAPProvider(account, f.creds, f.pool, f.log)
	default:
		return nil, apperr.UnknownProvider(string(account.Provider)).
			WithDetail("account_id", account.ID)
	}
}

// Watch builds a push watcher for the account, or nil when its provider has
// no push channel: Gmail accounts are picked up by the scheduler interval
// instead.
func (f *Factory) Watch(account *domain.Account, onNew func(accountID string)) (*IdleWatcher, error) {
	if account.Provider != domain.ProviderIMAP {
		return nil, nil
	}
	return NewIdleWatcher(account, f.creds, onNew, f.log)
}
