package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/in"
)

// Watcher is one account's push listener. Start is asynchronous; Stop blocks
// until the listener is gone and is idempotent.
type Watcher interface {
	Start()
	Stop()
}

// WatcherFactory builds the push watcher for one account. A nil Watcher with
// a nil error means the account's provider has no push channel and the
// scheduler interval is its only trigger.
type WatcherFactory func(account *domain.Account, onNew func(accountID string)) (Watcher, error)

// IdleRegistry owns one push watcher per account that supports push. Wakeups
// are forwarded to the scheduler, so pushed and polled runs share the same
// worker pool. The account set is fixed at process start; the registry never
// rescans on its own.
type IdleRegistry struct {
	accounts in.AccountService
	build    WatcherFactory
	wake     func(accountID string)
	log      zerolog.Logger

	mu       sync.Mutex
	watchers map[string]Watcher
}

func NewIdleRegistry(accounts in.AccountService, build WatcherFactory, wake func(accountID string), log zerolog.Logger) *IdleRegistry {
	return &IdleRegistry{
		accounts: accounts,
		build:    build,
		wake:     wake,
		log:      log.With().Str("component", "idle_registry").Logger(),
	}
}

// StartAll builds and starts a watcher for every account that supports push.
// One account failing does not stop the others; only listing accounts can
// fail the call.
func (r *IdleRegistry) StartAll(ctx context.Context) error {
	accounts, err := r.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watchers == nil {
		r.watchers = make(map[string]Watcher)
	}

	started := 0
	for _, account := range accounts {
		if _, ok := r.watchers[account.ID]; ok {
			continue
		}
		w, err := r.build(account, r.wake)
		if err != nil {
			r.log.Warn().Err(err).Str("account_id", account.ID).Msg("push watcher not started")
			continue
		}
		if w == nil {
			continue
		}
		w.Start()
		r.watchers[account.ID] = w
		started++
	}

	r.log.Info().Int("watching", started).Int("accounts", len(accounts)).Msg("push watchers started")
	return nil
}

// StopAll stops every watcher and waits for each to wind down. Idempotent.
func (r *IdleRegistry) StopAll() {
	r.mu.Lock()
	watchers := r.watchers
	r.watchers = nil
	r.mu.Unlock()

	for id, w := range watchers {
		w.Stop()
		r.log.Debug().Str("account_id", id).Msg("push watcher stopped")
	}
}

// Watching reports how many watchers are currently running.
func (r *IdleRegistry) Watching() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}
