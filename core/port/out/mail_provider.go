// Package out defines outbound ports (driven ports) for the engine.
package out

import (
	"context"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
)

// =============================================================================
// Mail Provider Port
// =============================================================================

// MailProvider is the uniform capability set over one mail account. Two
// variants exist: the OAuth API adapter and the IMAP adapter. A provider owns
// its connection lifecycle; Close releases whatever it holds.
type MailProvider interface {
	ProviderType() domain.Provider

	Authenticator
	MessageFetcher
	LabelManager
	MessageModifier
	MessageSender
	AttachmentReader

	Close() error
}

// Authenticator establishes the provider session. Failures are terminal for
// the current run.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// MessageFetcher pulls canonical messages and lazy bodies. since is
// advisory: a provider may return older rows but must not miss rows newer
// than since that exist at call time.
type MessageFetcher interface {
	FetchMessages(ctx context.Context, since *time.Time, maxResults int) ([]*domain.Message, error)
	FetchBody(ctx context.Context, messageID string) (text, html string, err error)
}

// LabelManager maintains provider-side labels or keywords. All operations
// are idempotent.
type LabelManager interface {
	ListLabels(ctx context.Context) (map[string]string, error)
	EnsureLabelsExist(ctx context.Context, names []string) error
	UpdateLabels(ctx context.Context, messageID string, add, remove []string) error
}

// MessageModifier echoes local mutations to the provider.
type MessageModifier interface {
	MarkRead(ctx context.Context, messageID string) error
	MarkUnread(ctx context.Context, messageID string) error
	MoveToTrash(ctx context.Context, messageID string) error
	RestoreFromTrash(ctx context.Context, messageID, originalFolder string) error
	Delete(ctx context.Context, messageID string, permanent bool) error
}

// MessageSender submits a fully composed MIME message.
type MessageSender interface {
	SendMessage(ctx context.Context, raw []byte, threadID string) error
}

// AttachmentReader lists and retrieves message attachments.
type AttachmentReader interface {
	ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) (*domain.Attachment, error)
}

// ProviderFactory builds a provider for one account from its settings and
// credentials. Unknown provider kinds fail with a configuration error.
type ProviderFactory interface {
	Create(ctx context.Context, account *domain.Account) (MailProvider, error)
}
