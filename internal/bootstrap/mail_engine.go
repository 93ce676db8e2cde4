package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/adapter/in/worker"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
)

const (
	poolSweepInterval     = 1 * time.Minute
	feedbackSweepInterval = 1 * time.Hour
)

// Engine is the background half of the process: the interval scheduler, the
// IMAP IDLE watchers, and the maintenance sweeps over pool and feedback.
type Engine struct {
	deps      *Dependencies
	scheduler *worker.Scheduler
	idle      *worker.IdleRegistry
	log       zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewEngine wires scheduler and IDLE registry over the dependency graph.
// IDLE wakeups enter the scheduler's pool, so pushed and polled accounts
// follow the same path.
func NewEngine(deps *Dependencies) *Engine {
	cfg := deps.Config
	log := deps.Log.With().Str("component", "engine").Logger()

	var actions worker.ActionRunner
	if deps.Gateway != nil {
		actions = deps.ActionAgent
	}

	scheduler := worker.NewScheduler(deps.Accounts, deps.SyncEngine, actions, worker.Config{
		Interval:    cfg.SyncInterval,
		Workers:     cfg.SyncWorkers,
		MaxMessages: cfg.SyncMaxMessages,
	}, deps.Log)

	var idle *worker.IdleRegistry
	if cfg.IdleEnabled {
		// The wrapper keeps a nil *IdleWatcher from becoming a non-nil
		// Watcher interface for push-less providers.
		build := func(account *domain.Account, onNew func(accountID string)) (worker.Watcher, error) {
			w, err := deps.Providers.Watch(account, onNew)
			if w == nil || err != nil {
				return nil, err
			}
			return w, nil
		}
		idle = worker.NewIdleRegistry(deps.Accounts, build, scheduler.Wake, deps.Log)
	}

	return &Engine{
		deps:      deps,
		scheduler: scheduler,
		idle:      idle,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the scheduler, the IDLE watchers and the maintenance loop.
func (e *Engine) Start(ctx context.Context) {
	if e.deps.Config.SchedulerEnabled {
		e.scheduler.Start()
	}
	if e.idle != nil {
		if err := e.idle.StartAll(ctx); err != nil {
			e.log.Error().Err(err).Msg("idle watchers not started")
		}
	}
	go e.maintain()
	e.log.Info().Msg("engine started")
}

// Stop winds everything down and blocks until the maintenance loop exits.
// Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		if e.idle != nil {
			e.idle.StopAll()
		}
		e.scheduler.Stop()
		<-e.done
		e.log.Info().Msg("engine stopped")
	})
}

// maintain evicts idle IMAP sessions and trims the feedback table on their
// own cadences until Stop.
func (e *Engine) maintain() {
	defer close(e.done)

	poolTicker := time.NewTicker(poolSweepInterval)
	defer poolTicker.Stop()
	feedbackTicker := time.NewTicker(feedbackSweepInterval)
	defer feedbackTicker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-poolTicker.C:
			if n := e.deps.Pool.CleanupIdle(); n > 0 {
				e.log.Debug().Int("closed", n).Msg("idle imap sessions evicted")
			}
		case <-feedbackTicker.C:
			cfg := e.deps.Config
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := e.deps.Store.CleanupFeedback(ctx,
				time.Duration(cfg.FeedbackMaxAgeDays)*24*time.Hour,
				cfg.FeedbackPerAccountCap)
			cancel()
			if err != nil {
				e.log.Warn().Err(err).Msg("feedback cleanup failed")
			} else if n > 0 {
				e.log.Info().Int64("deleted", n).Msg("feedback trimmed")
			}
		}
	}
}
