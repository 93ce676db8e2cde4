package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

// Pool keeps one live IMAP session per account and serializes access to it.
// Dialing is expensive (TLS + LOGIN + LIST) and go-imap clients are not safe
// for interleaved commands, so callers borrow the session for the duration of
// a closure.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry
	maxIdle time.Duration

	// probe checks whether a cached session still answers before reuse.
	// Swappable for tests.
	probe func(*imapSession) error

	log zerolog.Logger
}

type poolEntry struct {
	mu       sync.Mutex
	session  *imapSession
	lastUsed time.Time
}

func NewPool(maxIdle time.Duration, log zerolog.Logger) *Pool {
	if maxIdle <= 0 {
		maxIdle = 300 * time.Second
	}
	return &Pool{
		entries: make(map[string]*poolEntry),
		maxIdle: maxIdle,
		probe:   (*imapSession).noop,
		log:     log.With().Str("component", "imap_pool").Logger(),
	}
}

// With runs fn against the account's session, dialing one if none is cached
// or the cached one fails its liveness probe. Transport-kind errors from fn
// evict the session so the next caller redials.
func (p *Pool) With(ctx context.Context, accountID string, dial func(context.Context) (*imapSession, error), fn func(*imapSession) error) error {
	p.mu.Lock()
	entry, ok := p.entries[accountID]
	if !ok {
		entry = &poolEntry{}
		p.entries[accountID] = entry
	}
	p.mu.Unlock()

	entry.mu.Lock()
	defer func() {
		entry.lastUsed = time.Now()
		entry.mu.Unlock()
	}()

	if entry.session != nil {
		if err := p.probe(entry.session); err != nil {
			p.log.Debug().Str("account_id", accountID).Err(err).Msg("cached imap session dead, redialing")
			entry.session.close()
			entry.session = nil
		}
	}
	if entry.session == nil {
		session, err := dial(ctx)
		if err != nil {
			return err
		}
		entry.session = session
	}

	err := fn(entry.session)
	if apperr.IsKind(err, apperr.KindTransport) {
		entry.session.close()
		entry.session = nil
	}
	return err
}

// CleanupIdle closes sessions unused past the idle cutoff and reports how many
// it closed. Busy entries are skipped rather than waited on.
func (p *Pool) CleanupIdle() int {
	p.mu.Lock()
	snapshot := make(map[string]*poolEntry, len(p.entries))
	for id, entry := range p.entries {
		snapshot[id] = entry
	}
	p.mu.Unlock()

	cutoff := time.Now().Add(-p.maxIdle)
	closed := 0
	for id, entry := range snapshot {
		if !entry.mu.TryLock() {
			continue
		}
		if entry.session != nil && entry.lastUsed.Before(cutoff) {
			entry.session.close()
			entry.session = nil
			closed++
			p.log.Debug().Str("account_id", id).Msg("closed idle imap session")
		}
		entry.mu.Unlock()
	}
	return closed
}

// CloseAccount tears down the cached session for one account.
func (p *Pool) CloseAccount(accountID string) {
	p.mu.Lock()
	entry := p.entries[accountID]
	delete(p.entries, accountID)
	p.mu.Unlock()
	if entry == nil {
		return
	}
	entry.mu.Lock()
	if entry.session != nil {
		entry.session.close()
		entry.session = nil
	}
	entry.mu.Unlock()
}

// CloseAll tears down every cached session. Used at shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.session != nil {
			entry.session.close()
			entry.session = nil
		}
		entry.mu.Unlock()
	}
}
