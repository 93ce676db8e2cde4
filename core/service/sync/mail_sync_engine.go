// Package sync coordinates one engine run per account: fetch, persist,
// classify, push labels, drain the pending queue.
package sync

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/in"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/service/classify"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// Engine
// =============================================================================

const (
	// DefaultMaxMessages bounds one fetch when the caller passes no limit.
	DefaultMaxMessages = 50

	// DefaultDrainLimit bounds the pending operations echoed per run.
	DefaultDrainLimit = 50

	// feedbackExamples is how many stored corrections are replayed as
	// few-shot examples per classification.
	feedbackExamples = 5
)

// Config tunes one Engine.
type Config struct {
	LabelPrefix string
	MaxMessages int
	DrainLimit  int
	MaxAttempts int
}

// Engine runs the per-account reconciliation loop. Local rows are the
// authority for read state and folder; the provider is the authority for
// which messages exist. Concurrent triggers for the same account coalesce
// into one run.
type Engine struct {
	store      out.Store
	providers  out.ProviderFactory
	classifier *classify.Classifier
	events     out.EventPublisher
	cfg        Config
	log        zerolog.Logger

	flight singleflight.Group
	locks  sync.Map // account id -> *sync.Mutex
}

// NewEngine wires the reconciliation loop. events may be nil for library use.
func NewEngine(store out.Store, providers out.ProviderFactory, classifier *classify.Classifier, events out.EventPublisher, cfg Config, log zerolog.Logger) *Engine {
	if cfg.LabelPrefix == "" {
		cfg.LabelPrefix = "AI/"
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.DrainLimit <= 0 {
		cfg.DrainLimit = DefaultDrainLimit
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.MaxOperationAttempts
	}
	return &Engine{
		store:      store,
		providers:  providers,
		classifier: classifier,
		events:     events,
		cfg:        cfg,
		log:        log.With().Str("component", "sync").Logger(),
	}
}

var _ in.SyncService = (*Engine)(nil)

// =============================================================================
// Entry points
// =============================================================================

// Sync runs one reconciliation for the account. Triggers arriving while a
// run is in flight join it and share its result instead of queueing another.
func (e *Engine) Sync(ctx context.Context, accountID string, maxMessages int) (*domain.SyncResult, error) {
	v, err, shared := e.flight.Do(accountID, func() (interface{}, error) {
		unlock := e.lockAccount(accountID)
		defer unlock()
		return e.run(ctx, accountID, maxMessages)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		e.log.Debug().Str("account", accountID).Msg("joined in-flight sync")
	}
	return v.(*domain.SyncResult), nil
}

// SyncAll runs every configured account in turn, one result per account.
// Account failures never stop the remaining accounts.
func (e *Engine) SyncAll(ctx context.Context, maxMessages int) []*domain.SyncResult {
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("cannot list accounts")
		return nil
	}
	results := make([]*domain.SyncResult, 0, len(accounts))
	for _, account := range accounts {
		result, err := e.Sync(ctx, account.ID, maxMessages)
		if err != nil {
			result = &domain.SyncResult{
				AccountID: account.ID,
				StartedAt: time.Now().UTC(),
				Errors:    []domain.SyncError{{Stage: "sync", Error: err.Error()}},
			}
		}
		results = append(results, result)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// Reclassify reruns classification over stored messages, replacing each
// verdict and pushing the resulting label delta. The sync cursor is left
// untouched: nothing was fetched, so advancing it would skip unseen mail.
func (e *Engine) Reclassify(ctx context.Context, accountID string, max int) (*domain.SyncResult, error) {
	unlock := e.lockAccount(accountID)
	defer unlock()

	if max <= 0 {
		max = e.cfg.MaxMessages
	}
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result := &domain.SyncResult{AccountID: accountID, StartedAt: started.UTC()}
	log := e.log.With().Str("account", accountID).Logger()
	log.Info().Int("max", max).Msg("reclassify started")

	provider, err := e.providers.Create(ctx, account)
	if err != nil {
		return e.abort(result, "provider", err, log), nil
	}
	defer provider.Close()

	if err := provider.Authenticate(ctx); err != nil {
		return e.abort(result, "auth", err, log), nil
	}

	messages, err := e.store.QueryMessages(ctx, &domain.MessageFilter{AccountID: accountID, Limit: max})
	if err != nil {
		return e.abort(result, "query", err, log), nil
	}

	e.classifyMessages(ctx, provider, result, messages, log)

	if err := e.drainPending(ctx, provider, accountID, result, log); err != nil {
		return e.abort(result, "pending", err, log), nil
	}

	result.Duration = time.Since(started)
	log.Info().
		Int("classified", result.Classified).
		Int("labels_updated", result.LabelsUpdated).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("reclassify completed")
	e.publish(&domain.Event{Type: domain.EventSyncCompleted, AccountID: accountID, Payload: result})
	return result, nil
}

// =============================================================================
// The run
// =============================================================================

func (e *Engine) run(ctx context.Context, accountID string, maxMessages int) (*domain.SyncResult, error) {
	if maxMessages <= 0 {
		maxMessages = e.cfg.MaxMessages
	}
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result := &domain.SyncResult{AccountID: accountID, StartedAt: started.UTC()}
	log := e.log.With().Str("account", accountID).Logger()
	log.Info().Int("max_messages", maxMessages).Msg("sync started")
	e.publish(&domain.Event{Type: domain.EventSyncStarted, AccountID: accountID})

	provider, err := e.providers.Create(ctx, account)
	if err != nil {
		return e.abort(result, "provider", err, log), nil
	}
	defer provider.Close()

	if err := provider.Authenticate(ctx); err != nil {
		return e.abort(result, "auth", err, log), nil
	}

	messages, err := provider.FetchMessages(ctx, account.LastSync, maxMessages)
	if err != nil {
		return e.abort(result, "fetch", err, log), nil
	}
	result.Fetched = len(messages)

	// Persist. The store keeps folder, is_unread and original_folder from
	// the existing row; only new rows adopt provider state.
	for _, msg := range messages {
		if ctx.Err() != nil {
			return e.abort(result, "persist", ctx.Err(), log), nil
		}
		_, err := e.store.GetMessage(ctx, msg.ID)
		isNew := apperr.IsCode(err, apperr.CodeNotFound)
		if err != nil && !isNew {
			result.Errors = append(result.Errors, domain.SyncError{MessageID: msg.ID, Stage: "persist", Error: err.Error()})
			continue
		}
		if err := e.store.UpsertMessage(ctx, msg); err != nil {
			result.Errors = append(result.Errors, domain.SyncError{MessageID: msg.ID, Stage: "persist", Error: err.Error()})
			continue
		}
		if isNew {
			result.NewMessages = append(result.NewMessages, msg)
		}
	}

	unclassified, err := e.store.ListUnclassified(ctx, accountID, maxMessages)
	if err != nil {
		return e.abort(result, "classify", err, log), nil
	}
	e.classifyMessages(ctx, provider, result, unclassified, log)

	if err := e.drainPending(ctx, provider, accountID, result, log); err != nil {
		return e.abort(result, "pending", err, log), nil
	}

	if err := e.store.UpdateLastSync(ctx, accountID, time.Now().UTC()); err != nil {
		return e.abort(result, "last_sync", err, log), nil
	}

	result.Duration = time.Since(started)
	log.Info().
		Int("fetched", result.Fetched).
		Int("new", len(result.NewMessages)).
		Int("classified", result.Classified).
		Int("labels_updated", result.LabelsUpdated).
		Int("ops_drained", result.OpsDrained).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("sync completed")
	e.publish(&domain.Event{Type: domain.EventSyncCompleted, AccountID: accountID, Payload: result})
	return result, nil
}

// classifyMessages runs the classifier over the given messages, stores each
// verdict and pushes the implied label delta. One message failing never
// stops the others.
func (e *Engine) classifyMessages(ctx context.Context, provider out.MailProvider, result *domain.SyncResult, messages []*domain.Message, log zerolog.Logger) {
	for _, msg := range messages {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, domain.SyncError{Stage: "classify", Error: ctx.Err().Error()})
			return
		}
		examples, err := e.store.RelevantFeedback(ctx, msg.AccountID, msg.SenderDomain(), feedbackExamples)
		if err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("feedback lookup failed")
		}
		c, err := e.classifier.Classify(ctx, msg, examples)
		if err != nil {
			result.Errors = append(result.Errors, domain.SyncError{MessageID: msg.ID, Stage: "classify", Error: err.Error()})
			continue
		}
		if err := e.store.SaveClassification(ctx, c); err != nil {
			result.Errors = append(result.Errors, domain.SyncError{MessageID: msg.ID, Stage: "classify", Error: err.Error()})
			continue
		}
		result.Classified++
		e.publish(&domain.Event{
			Type:      domain.EventMessageClassified,
			AccountID: msg.AccountID,
			Payload:   &domain.ClassifiedMessage{Message: msg, Classification: c},
		})

		add, remove := computeLabelDelta(e.cfg.LabelPrefix, c, msg)
		if len(add) == 0 && len(remove) == 0 {
			continue
		}
		if err := e.pushLabels(ctx, provider, msg.ID, add, remove); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("label push failed")
			result.Errors = append(result.Errors, domain.SyncError{MessageID: msg.ID, Stage: "labels", Error: err.Error()})
			continue
		}
		result.LabelsUpdated++
	}
}

func (e *Engine) pushLabels(ctx context.Context, provider out.MailProvider, messageID string, add, remove []string) error {
	if len(add) > 0 {
		if err := provider.EnsureLabelsExist(ctx, add); err != nil {
			return err
		}
	}
	return provider.UpdateLabels(ctx, messageID, add, remove)
}

// drainPending echoes queued local mutations to the provider, oldest first.
// A failed echo advances the attempt counter; at the cap the operation flips
// to failed and surfaces under the failed-operations listing.
func (e *Engine) drainPending(ctx context.Context, provider out.MailProvider, accountID string, result *domain.SyncResult, log zerolog.Logger) error {
	ops, err := e.store.DequeuePending(ctx, accountID, e.cfg.DrainLimit)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.applyPending(ctx, provider, op); err != nil {
			log.Warn().Err(err).
				Str("message_id", op.MessageID).
				Str("operation", op.Operation).
				Int("attempts", op.Attempts+1).
				Msg("pending operation failed")
			result.Errors = append(result.Errors, domain.SyncError{MessageID: op.MessageID, Stage: "pending", Error: err.Error()})
			if ferr := e.store.FailPending(ctx, op.ID, err.Error(), e.cfg.MaxAttempts); ferr != nil {
				log.Error().Err(ferr).Int64("op_id", op.ID).Msg("cannot record pending failure")
			}
			continue
		}
		if err := e.store.CompletePending(ctx, op.ID); err != nil {
			log.Error().Err(err).Int64("op_id", op.ID).Msg("cannot complete pending operation")
			result.Errors = append(result.Errors, domain.SyncError{MessageID: op.MessageID, Stage: "pending", Error: err.Error()})
			continue
		}
		result.OpsDrained++
	}
	return nil
}

func (e *Engine) applyPending(ctx context.Context, provider out.MailProvider, op *domain.PendingOperation) error {
	switch op.Operation {
	case domain.OpMarkRead:
		return provider.MarkRead(ctx, op.MessageID)
	case domain.OpMarkUnread:
		return provider.MarkUnread(ctx, op.MessageID)
	case domain.OpTrash:
		return provider.MoveToTrash(ctx, op.MessageID)
	case domain.OpRestore:
		var originalFolder string
		if msg, err := e.store.GetMessage(ctx, op.MessageID); err == nil {
			originalFolder = msg.OriginalFolder
		}
		return provider.RestoreFromTrash(ctx, op.MessageID, originalFolder)
	case domain.OpDelete:
		return provider.Delete(ctx, op.MessageID, true)
	default:
		return apperr.InvalidInput("operation", "unknown pending operation "+op.Operation)
	}
}

// =============================================================================
// Label delta
// =============================================================================

// computeLabelDelta derives the provider label changes implied by a stored
// verdict. The add set is desired minus current; the remove set only ever
// touches labels under the configured prefix, plus INBOX when the verdict
// allows archiving a message still sitting in the inbox.
func computeLabelDelta(prefix string, c *domain.Classification, msg *domain.Message) (add, remove []string) {
	desired := make(map[string]bool, len(c.Tags)+2)
	for _, tag := range c.Tags {
		if tag == "" {
			continue
		}
		desired[prefix+capitalizeTag(tag)] = true
	}
	if c.Priority == domain.PriorityHigh {
		desired[prefix+"Priority"] = true
	}
	if c.ActionRequired {
		desired[prefix+"ToDo"] = true
	}

	current := make(map[string]bool, len(msg.Labels))
	for _, label := range msg.Labels {
		current[label] = true
	}

	for label := range desired {
		if !current[label] {
			add = append(add, label)
		}
	}
	sort.Strings(add)

	for _, label := range msg.Labels {
		if strings.HasPrefix(label, prefix) && !desired[label] {
			remove = append(remove, label)
		}
	}
	if c.CanArchive && (msg.Folder == domain.FolderInbox || current["INBOX"]) {
		remove = append(remove, "INBOX")
	}
	return add, remove
}

func capitalizeTag(tag string) string {
	if tag == "" {
		return tag
	}
	r := []rune(tag)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// =============================================================================
// Plumbing
// =============================================================================

func (e *Engine) abort(result *domain.SyncResult, stage string, err error, log zerolog.Logger) *domain.SyncResult {
	log.Error().Err(err).Str("stage", stage).Msg("sync aborted")
	syncErr := domain.SyncError{Stage: stage, Error: err.Error()}
	result.Errors = append(result.Errors, syncErr)
	result.Duration = time.Since(result.StartedAt)
	e.publish(&domain.Event{Type: domain.EventError, AccountID: result.AccountID, Payload: syncErr})
	return result
}

func (e *Engine) publish(event *domain.Event) {
	if e.events == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	e.events.Publish(event)
}

// lockAccount serializes runs per account. Distinct accounts proceed in
// parallel.
func (e *Engine) lockAccount(id string) func() {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
