// Package worker hosts the background adapters of engine mode: an interval
// scheduler that fans due accounts into a bounded worker pool, and a registry
// of IMAP IDLE watchers that wake the same pool on server push.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/in"
)

const (
	defaultInterval   = 5 * time.Minute
	defaultWorkers    = 4
	defaultRunTimeout = 10 * time.Minute

	// workerQueueDepth is the per-worker submission buffer. Scans queue at
	// most one entry per account, so this only needs to absorb IDLE bursts.
	workerQueueDepth = 32

	// closeTimeout bounds how long Stop waits for in-flight runs before
	// cancelling them.
	closeTimeout = 30 * time.Second

	scanTimeout = 30 * time.Second
)

// ActionRunner executes the configured actions over one account's classified
// mail. Satisfied by the action agent.
type ActionRunner interface {
	Run(ctx context.Context, accountID string) (int, error)
}

// Config tunes one Scheduler.
type Config struct {
	Interval    time.Duration // scan period; an account is due when its last sync is older than this
	Workers     int           // concurrent account runs
	MaxMessages int           // per-run fetch cap handed to the engine; zero uses the engine default
	RunTimeout  time.Duration // hard bound on one account run including the action pass
}

// Scheduler periodically scans for due accounts and feeds them into a
// bounded pool of sync workers. IDLE wakeups enter through Wake and share
// the pool, so a pushed account and a polled one follow the same path and
// the engine's per-account coalescing absorbs duplicates.
type Scheduler struct {
	accounts in.AccountService
	sync     in.SyncService
	actions  ActionRunner
	cfg      Config
	log      zerolog.Logger

	group *pool.WorkerGroup[string]

	loopCtx    context.Context
	loopCancel context.CancelFunc
	poolCtx    context.Context
	poolCancel context.CancelFunc
	done       chan struct{}

	runs     atomic.Int64
	failures atomic.Int64

	mu      sync.Mutex
	started bool
}

// NewScheduler wires a scheduler. actions may be nil; runs then stop after
// classification.
func NewScheduler(accounts in.AccountService, syncSvc in.SyncService, actions ActionRunner, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	return &Scheduler{
		accounts: accounts,
		sync:     syncSvc,
		actions:  actions,
		cfg:      cfg,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// syncWorker adapts the scheduler to the pool's worker interface.
type syncWorker struct {
	s *Scheduler
}

func (w *syncWorker) Do(ctx context.Context, accountID string) error {
	return w.s.runAccount(ctx, accountID)
}

// Start launches the worker pool and the scan loop. Calling Start twice is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}

	s.loopCtx, s.loopCancel = context.WithCancel(context.Background())
	s.poolCtx, s.poolCancel = context.WithCancel(context.Background())

	// Batch size 1: a wakeup must dispatch immediately, not sit in a
	// partially filled batch. Chunking by account id pins each account to
	// one worker, so its runs stay in arrival order.
	s.group = pool.New[string](s.cfg.Workers, &syncWorker{s: s}).
		WithBatchSize(1).
		WithWorkerChanSize(workerQueueDepth).
		WithChunkFn(func(accountID string) string { return accountID }).
		WithContinueOnError()
	if err := s.group.Go(s.poolCtx); err != nil {
		s.log.Error().Err(err).Msg("sync pool failed to start")
		s.loopCancel()
		s.poolCancel()
		return
	}

	s.started = true
	s.done = make(chan struct{})
	go s.run()

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Int("workers", s.cfg.Workers).
		Msg("sync scheduler started")
}

// Stop ends the scan loop, drains queued runs and waits for in-flight ones
// up to closeTimeout. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.loopCancel()
	<-s.done

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.group.Close(closeCtx); err != nil {
		s.log.Warn().Err(err).Msg("sync pool did not drain cleanly")
	}
	s.poolCancel()

	s.log.Info().
		Int64("runs", s.runs.Load()).
		Int64("failures", s.failures.Load()).
		Msg("sync scheduler stopped")
}

// Wake queues one account for an immediate run. Safe from IDLE callbacks at
// any time; wakeups arriving after Stop are dropped.
func (s *Scheduler) Wake(accountID string) {
	// The lock is held across Submit so Stop cannot close the pool under a
	// wakeup that already passed the started check.
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.group.Submit(accountID)
}

func (s *Scheduler) run() {
	defer close(s.done)

	// First scan fires immediately so never-synced accounts do not wait a
	// full interval after boot.
	s.scan()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.loopCtx.Done():
			return
		case <-ticker.C:
			s.scan()
		}
	}
}

// scan lists accounts and queues the due ones. Due means never synced, or
// synced longer ago than the scan interval.
func (s *Scheduler) scan() {
	ctx, cancel := context.WithTimeout(s.loopCtx, scanTimeout)
	defer cancel()

	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		if s.loopCtx.Err() == nil {
			s.log.Error().Err(err).Msg("account scan failed")
		}
		return
	}

	now := time.Now()
	due := 0
	for _, account := range accounts {
		if account.LastSync != nil && now.Sub(*account.LastSync) < s.cfg.Interval {
			continue
		}
		s.group.Submit(account.ID)
		due++
	}
	if due > 0 {
		s.log.Debug().Int("due", due).Int("accounts", len(accounts)).Msg("queued due accounts")
	}
}

func (s *Scheduler) runAccount(ctx context.Context, accountID string) error {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	s.runs.Add(1)
	result, err := s.sync.Sync(runCtx, accountID, s.cfg.MaxMessages)
	if err != nil {
		s.failures.Add(1)
		s.log.Error().Err(err).Str("account_id", accountID).Msg("scheduled sync failed")
		return err
	}

	executed := 0
	if s.actions != nil {
		if executed, err = s.actions.Run(runCtx, accountID); err != nil {
			s.failures.Add(1)
			s.log.Error().Err(err).Str("account_id", accountID).Msg("action pass failed")
			return err
		}
	}

	s.log.Info().
		Str("account_id", accountID).
		Int("fetched", result.Fetched).
		Int("classified", result.Classified).
		Int("actions", executed).
		Dur("took", result.Duration).
		Msg("scheduled sync completed")
	return nil
}
