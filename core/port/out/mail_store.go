package out

import (
	"context"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
)

// =============================================================================
// Store Port
// =============================================================================

// Store is the durable local state boundary. WithTx opens a transactional
// session: every mutation performed through the passed Store commits or
// rolls back together. Methods called on the root Store auto-commit.
type Store interface {
	AccountStore
	MessageStore
	ClassificationStore
	FeedbackStore
	DraftStore
	AttachmentStore
	PendingOpStore
	ActionLogStore
	TrustedSenderStore
	PushSubscriptionStore

	WithTx(ctx context.Context, fn func(Store) error) error
}

// AccountStore persists configured accounts. Rename handling is composed
// from these primitives inside one transaction by the accounts service.
type AccountStore interface {
	SaveAccount(ctx context.Context, account *domain.Account) error
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
	UpdateAccountEmail(ctx context.Context, id, email string) error
	UpdateLastSync(ctx context.Context, id string, at time.Time) error
	ReassignMessages(ctx context.Context, fromAccountID, toAccountID string) (int64, error)
	DeleteAccount(ctx context.Context, id string) error
}

// MessageStore persists canonical messages. UpsertMessage never flips
// folder, is_unread or original_folder on existing rows; the sync engine
// decides those.
type MessageStore interface {
	UpsertMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	QueryMessages(ctx context.Context, filter *domain.MessageFilter) ([]*domain.Message, error)
	ListUnclassified(ctx context.Context, accountID string, limit int) ([]*domain.Message, error)
	UpdateMessageRead(ctx context.Context, id string, unread bool) error
	UpdateMessageBody(ctx context.Context, id, text, html string) error
	MoveToTrash(ctx context.Context, id string) error
	RestoreFromTrash(ctx context.Context, id string) error
	DeleteMessage(ctx context.Context, id string) error
}

// ClassificationStore persists model verdicts, one per message.
type ClassificationStore interface {
	SaveClassification(ctx context.Context, c *domain.Classification) error
	GetClassification(ctx context.Context, messageID string) (*domain.Classification, error)
	UpdateClassificationTags(ctx context.Context, messageID string, tags []string) error
	ListClassifiedWithTags(ctx context.Context, accountID string, tags []string) ([]*domain.ClassifiedMessage, error)
}

// FeedbackStore persists user corrections and serves them back as few-shot
// examples. RelevantFeedback increments use_count on every returned row
// inside the same transaction as the read.
type FeedbackStore interface {
	RecordFeedback(ctx context.Context, f *domain.Feedback) error
	RelevantFeedback(ctx context.Context, accountID, senderDomain string, n int) ([]*domain.Feedback, error)
	CleanupFeedback(ctx context.Context, maxAge time.Duration, perAccountCap int) (int64, error)
}

// DraftStore persists local drafts. Deleting a draft cascades to its
// attachments.
type DraftStore interface {
	SaveDraft(ctx context.Context, draft *domain.Draft) error
	GetDraft(ctx context.Context, id string) (*domain.Draft, error)
	ListDrafts(ctx context.Context, accountID string) ([]*domain.Draft, error)
	DeleteDraft(ctx context.Context, id string) error
}

// AttachmentStore persists binary attachments owned by a draft or message.
type AttachmentStore interface {
	SaveAttachment(ctx context.Context, a *domain.Attachment) error
	GetAttachment(ctx context.Context, id string) (*domain.Attachment, error)
	ListDraftAttachments(ctx context.Context, draftID string) ([]*domain.Attachment, error)
	ListMessageAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
}

// PendingOpStore is the durable mutation queue. Enqueue applies the
// cancellation and dedup rules; Fail advances the attempt counter and flips
// status to failed at the cap.
type PendingOpStore interface {
	EnqueuePending(ctx context.Context, accountID, messageID, operation string) error
	DequeuePending(ctx context.Context, accountID string, limit int) ([]*domain.PendingOperation, error)
	CompletePending(ctx context.Context, id int64) error
	FailPending(ctx context.Context, id int64, lastError string, maxAttempts int) error
	ListFailedOperations(ctx context.Context, accountID string) ([]*domain.PendingOperation, error)
}

// ActionLogStore is the audit trail of tool invocations. Deleting a
// message's rows resets its retry counters.
type ActionLogStore interface {
	SaveActionLog(ctx context.Context, log *domain.ActionLog) error
	CountActionAttempts(ctx context.Context, messageID, actionName string) (int, error)
	ListActionLogs(ctx context.Context, messageID string) ([]*domain.ActionLog, error)
	DeleteActionLogs(ctx context.Context, messageID string) (int64, error)
}

// TrustedSenderStore persists the remote-content allow list.
type TrustedSenderStore interface {
	AddTrustedSender(ctx context.Context, accountID, sender string) error
	RemoveTrustedSender(ctx context.Context, accountID, sender string) error
	ListTrustedSenders(ctx context.Context, accountID string) ([]*domain.TrustedSender, error)
	IsTrustedSender(ctx context.Context, accountID, sender string) (bool, error)
}

// PushSubscriptionStore persists browser push registrations.
type PushSubscriptionStore interface {
	SavePushSubscription(ctx context.Context, sub *domain.PushSubscription) error
	ListPushSubscriptions(ctx context.Context) ([]*domain.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}
