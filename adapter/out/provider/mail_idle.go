package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/credentials"
)

const (
	// idleRefresh restarts the IDLE command well inside the RFC 2177
	// 29-minute window so NAT mappings and server timers stay warm.
	idleRefresh = 5 * time.Minute
	// idleIOTimeout must comfortably cover a full refresh cycle; the
	// connection is otherwise silent while idling.
	idleIOTimeout      = 2*idleRefresh + time.Minute
	idleReconnectDelay = 30 * time.Second
)

var errIdleUnsupported = errors.New("server does not support IDLE")

// IdleWatcher holds a dedicated IMAP connection in IDLE on the inbox and
// invokes onNew when the server reports new messages. It runs independently
// of the pooled session so a long sync never starves the push channel.
type IdleWatcher struct {
	account *domain.Account
	cfg     imapConfig
	creds   *credentials.Loader
	onNew   func(accountID string)
	log     zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	session *imapSession
	started bool
	stopped bool

	done chan struct{}
}

func NewIdleWatcher(account *domain.Account, creds *credentials.Loader, onNew func(accountID string), log zerolog.Logger) (*IdleWatcher, error) {
	cfg, err := imapConfigFromAccount(account)
	if err != nil {
		return nil, err
	}
	return &IdleWatcher{
		account: account,
		cfg:     cfg,
		creds:   creds,
		onNew:   onNew,
		log: log.With().
			Str("component", "imap_idle").
			Str("account_id", account.ID).
			Logger(),
		done: make(chan struct{}),
	}, nil
}

// Start launches the watch loop. Calling Start twice is a no-op.
func (w *IdleWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
}

// Stop cancels the loop, force-closes the connection to unblock a pending
// read, and waits for the goroutine to exit. Idempotent.
func (w *IdleWatcher) Stop() {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel := w.cancel
	session := w.session
	w.mu.Unlock()

	cancel()
	if session != nil {
		session.close()
	}
	<-w.done
}

func (w *IdleWatcher) setSession(s *imapSession) {
	w.mu.Lock()
	w.session = s
	w.mu.Unlock()
}

func (w *IdleWatcher) run(ctx context.Context) {
	defer close(w.done)
	for ctx.Err() == nil {
		events := make(chan struct{}, 1)
		opts := &imapclient.Options{
			UnilateralDataHandler: &imapclient.UnilateralDataHandler{
				Mailbox: func(data *imapclient.UnilateralDataMailbox) {
					if data.NumMessages != nil {
						select {
						case events <- struct{}{}:
						default:
						}
					}
				},
				Expunge: func(uint32) {},
			},
		}

		cfg := w.cfg
		if err := resolveIMAPAuth(w.creds, w.account, &cfg); err != nil {
			w.log.Warn().Err(err).Msg("idle watcher cannot load credentials")
			if !sleepCtx(ctx, idleReconnectDelay) {
				return
			}
			continue
		}
		session, err := dialIMAP(ctx, cfg, idleIOTimeout, opts, w.log)
		if err != nil {
			w.log.Warn().Err(err).Msg("idle watcher dial failed")
			if !sleepCtx(ctx, idleReconnectDelay) {
				return
			}
			continue
		}

		w.setSession(session)
		err = w.idleLoop(ctx, session, events)
		w.setSession(nil)
		session.close()

		if errors.Is(err, errIdleUnsupported) {
			w.log.Info().Msg("server lacks IDLE, relying on scheduled sync only")
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.log.Warn().Err(err).Msg("idle connection lost, reconnecting")
		}
		if !sleepCtx(ctx, idleReconnectDelay) {
			return
		}
	}
}

// idleLoop cycles IDLE commands on the selected inbox until the context ends
// or the connection fails. Each cycle ends with an explicit DONE; a NOOP
// between cycles keeps errors attributable.
func (w *IdleWatcher) idleLoop(ctx context.Context, s *imapSession, events <-chan struct{}) error {
	if !s.caps.Has(imap.CapIdle) {
		return errIdleUnsupported
	}
	inbox, _ := s.serverFolder(domain.FolderInbox)
	if err := s.selectFolder(inbox); err != nil {
		return err
	}
	w.log.Debug().Str("mailbox", inbox).Msg("idle watch established")

	for {
		idleCmd, err := s.client.Idle()
		if err != nil {
			return err
		}
		idleDone := make(chan error, 1)
		go func() { idleDone <- idleCmd.Wait() }()

		timer := time.NewTimer(idleRefresh)
		notify := false
		var idleErr error
		select {
		case <-ctx.Done():
			timer.Stop()
			idleCmd.Close()
			<-idleDone
			return nil
		case <-timer.C:
			idleCmd.Close()
			idleErr = <-idleDone
		case <-events:
			notify = true
			timer.Stop()
			idleCmd.Close()
			idleErr = <-idleDone
		case idleErr = <-idleDone:
			// Server ended the IDLE on its own.
			timer.Stop()
		}
		if idleErr != nil {
			return idleErr
		}

		if notify {
			drainEvents(events)
			w.log.Debug().Msg("new mail reported, triggering sync")
			w.onNew(w.account.ID)
		}
		if err := s.noop(); err != nil {
			return err
		}
	}
}

// drainEvents collapses a burst of notifications into the one already taken.
func drainEvents(events <-chan struct{}) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
