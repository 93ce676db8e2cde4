package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeAccounts struct {
	accounts []*domain.Account
}

func (f *fakeAccounts) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	return f.accounts, nil
}

func (f *fakeAccounts) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	for _, a := range f.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAccounts) ListFailedOperations(ctx context.Context, accountID string) ([]*domain.PendingOperation, error) {
	return nil, nil
}

// fakeSync records which accounts ran and signals each run on a channel so
// tests can wait without sleeping.
type fakeSync struct {
	mu   sync.Mutex
	runs []string
	ran  chan string
}

func newFakeSync() *fakeSync {
	return &fakeSync{ran: make(chan string, 16)}
}

func (f *fakeSync) Sync(ctx context.Context, accountID string, maxMessages int) (*domain.SyncResult, error) {
	f.mu.Lock()
	f.runs = append(f.runs, accountID)
	f.mu.Unlock()
	f.ran <- accountID
	return &domain.SyncResult{AccountID: accountID}, nil
}

func (f *fakeSync) SyncAll(ctx context.Context, maxMessages int) []*domain.SyncResult {
	return nil
}

func (f *fakeSync) Reclassify(ctx context.Context, accountID string, max int) (*domain.SyncResult, error) {
	return &domain.SyncResult{AccountID: accountID}, nil
}

func (f *fakeSync) ranAccounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.runs...)
}

func (f *fakeSync) waitForRun(t *testing.T) string {
	t.Helper()
	select {
	case id := <-f.ran:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("no sync run happened")
		return ""
	}
}

type fakeActions struct {
	ran chan string
}

func (f *fakeActions) Run(ctx context.Context, accountID string) (int, error) {
	f.ran <- accountID
	return 1, nil
}

// =============================================================================
// Scheduler
// =============================================================================

func TestSchedulerRunsDueAccountsOnStart(t *testing.T) {
	recent := time.Now().Add(-time.Second)
	accounts := &fakeAccounts{accounts: []*domain.Account{
		{ID: "never-synced"},
		{ID: "fresh", LastSync: &recent},
	}}
	syncSvc := newFakeSync()

	s := NewScheduler(accounts, syncSvc, nil, Config{Interval: time.Hour}, zerolog.Nop())
	s.Start()
	defer s.Stop()

	if got := syncSvc.waitForRun(t); got != "never-synced" {
		t.Fatalf("ran %q, want never-synced", got)
	}

	s.Stop()
	for _, id := range syncSvc.ranAccounts() {
		if id == "fresh" {
			t.Fatal("recently synced account was queued")
		}
	}
}

func TestSchedulerRunsStaleAccounts(t *testing.T) {
	stale := time.Now().Add(-2 * time.Hour)
	accounts := &fakeAccounts{accounts: []*domain.Account{
		{ID: "stale", LastSync: &stale},
	}}
	syncSvc := newFakeSync()

	s := NewScheduler(accounts, syncSvc, nil, Config{Interval: time.Hour}, zerolog.Nop())
	s.Start()
	defer s.Stop()

	if got := syncSvc.waitForRun(t); got != "stale" {
		t.Fatalf("ran %q, want stale", got)
	}
}

func TestWakeQueuesImmediateRun(t *testing.T) {
	recent := time.Now()
	accounts := &fakeAccounts{accounts: []*domain.Account{
		{ID: "a1", LastSync: &recent},
	}}
	syncSvc := newFakeSync()

	s := NewScheduler(accounts, syncSvc, nil, Config{Interval: time.Hour}, zerolog.Nop())
	s.Start()
	defer s.Stop()

	s.Wake("a1")
	if got := syncSvc.waitForRun(t); got != "a1" {
		t.Fatalf("ran %q, want a1", got)
	}
}

func TestWakeAfterStopIsDropped(t *testing.T) {
	syncSvc := newFakeSync()
	s := NewScheduler(&fakeAccounts{}, syncSvc, nil, Config{Interval: time.Hour}, zerolog.Nop())
	s.Start()
	s.Stop()

	s.Wake("a1")

	select {
	case id := <-syncSvc.ran:
		t.Fatalf("run for %q after Stop", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestActionPassFollowsSync(t *testing.T) {
	accounts := &fakeAccounts{accounts: []*domain.Account{{ID: "a1"}}}
	syncSvc := newFakeSync()
	actions := &fakeActions{ran: make(chan string, 1)}

	s := NewScheduler(accounts, syncSvc, actions, Config{Interval: time.Hour}, zerolog.Nop())
	s.Start()
	defer s.Stop()

	syncSvc.waitForRun(t)
	select {
	case id := <-actions.ran:
		if id != "a1" {
			t.Fatalf("action pass ran for %q, want a1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("action pass never ran")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewScheduler(&fakeAccounts{}, newFakeSync(), nil, Config{Interval: time.Hour}, zerolog.Nop())
	s.Start()
	s.Stop()
	s.Stop()
	s.Start()
	s.Stop()
}

// =============================================================================
// Idle registry
// =============================================================================

type fakeWatcher struct {
	started bool
	stopped bool
}

func (w *fakeWatcher) Start() { w.started = true }
func (w *fakeWatcher) Stop()  { w.stopped = true }

func TestIdleRegistryStartsOnlyPushCapableAccounts(t *testing.T) {
	accounts := &fakeAccounts{accounts: []*domain.Account{
		{ID: "imap1", Provider: domain.ProviderIMAP},
		{ID: "gmail1", Provider: domain.ProviderGmail},
	}}

	watchers := map[string]*fakeWatcher{}
	build := func(account *domain.Account, onNew func(string)) (Watcher, error) {
		if account.Provider != domain.ProviderIMAP {
			return nil, nil
		}
		w := &fakeWatcher{}
		watchers[account.ID] = w
		return w, nil
	}

	r := NewIdleRegistry(accounts, build, func(string) {}, zerolog.Nop())
	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	if got := r.Watching(); got != 1 {
		t.Fatalf("watching = %d, want 1", got)
	}
	if w := watchers["imap1"]; w == nil || !w.started {
		t.Fatal("imap watcher not started")
	}
	if _, ok := watchers["gmail1"]; ok {
		t.Fatal("push-less account got a watcher")
	}

	r.StopAll()
	if !watchers["imap1"].stopped {
		t.Fatal("watcher not stopped")
	}
	if got := r.Watching(); got != 0 {
		t.Fatalf("watching after StopAll = %d, want 0", got)
	}
	r.StopAll()
}

func TestIdleRegistryStartAllIsIncremental(t *testing.T) {
	accounts := &fakeAccounts{accounts: []*domain.Account{
		{ID: "imap1", Provider: domain.ProviderIMAP},
	}}

	builds := 0
	build := func(account *domain.Account, onNew func(string)) (Watcher, error) {
		builds++
		return &fakeWatcher{}, nil
	}

	r := NewIdleRegistry(accounts, build, func(string) {}, zerolog.Nop())
	r.StartAll(context.Background())
	r.StartAll(context.Background())

	if builds != 1 {
		t.Fatalf("watcher built %d times, want 1", builds)
	}
	r.StopAll()
}
