// Package in defines inbound ports (driving ports) consumed by the control
// plane adapters.
package in

import (
	"context"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
)

// SyncService triggers and reports engine runs.
type SyncService interface {
	Sync(ctx context.Context, accountID string, maxMessages int) (*domain.SyncResult, error)
	SyncAll(ctx context.Context, maxMessages int) []*domain.SyncResult
	Reclassify(ctx context.Context, accountID string, max int) (*domain.SyncResult, error)
}

// MailService is the message-facing surface of the control plane. Local
// mutations write the Store and enqueue the provider echo in one
// transaction.
type MailService interface {
	// Reads
	ListMessages(ctx context.Context, filter *domain.MessageFilter) ([]*domain.Message, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	GetMessageBody(ctx context.Context, id string) (text, html string, err error)

	// Local mutations (echoed to the provider via the pending queue)
	MarkRead(ctx context.Context, id string) error
	MarkUnread(ctx context.Context, id string) error
	Trash(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error

	// Drafts
	SaveDraft(ctx context.Context, draft *domain.Draft) error
	GetDraft(ctx context.Context, id string) (*domain.Draft, error)
	ListDrafts(ctx context.Context, accountID string) ([]*domain.Draft, error)
	DeleteDraft(ctx context.Context, id string) error
	SendDraft(ctx context.Context, draftID string) error

	// Attachments
	ListMessageAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error)
	GetAttachment(ctx context.Context, id string) (*domain.Attachment, error)

	// Classification feedback
	RecordFeedback(ctx context.Context, messageID string, correctedTags []string) error
	SuggestReplies(ctx context.Context, messageID string) ([]string, error)

	// Trusted senders
	ListTrustedSenders(ctx context.Context, accountID string) ([]*domain.TrustedSender, error)
	AddTrustedSender(ctx context.Context, accountID, sender string) error
	RemoveTrustedSender(ctx context.Context, accountID, sender string) error

	// Action log
	ListActionLogs(ctx context.Context, messageID string) ([]*domain.ActionLog, error)
	ResetActionLogs(ctx context.Context, messageID string) error
}

// AccountService reconciles configuration with the Store and answers
// account reads.
type AccountService interface {
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListFailedOperations(ctx context.Context, accountID string) ([]*domain.PendingOperation, error)
}
