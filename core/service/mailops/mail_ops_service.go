// Package mailops implements the message-facing control plane: reads,
// local-first mutations echoed through the pending queue, drafts and
// outbound mail, classification feedback, and the allow/audit lists.
package mailops

import (
	"context"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/in"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/service/classify"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/rs/zerolog"
)

// Service answers the control plane. Every local mutation that needs a
// provider echo writes the message row and enqueues the operation in one
// Store transaction, so readers never observe one without the other.
type Service struct {
	store      out.Store
	providers  out.ProviderFactory
	classifier *classify.Classifier
	log        zerolog.Logger
}

func NewService(store out.Store, providers out.ProviderFactory, classifier *classify.Classifier, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		providers:  providers,
		classifier: classifier,
		log:        log.With().Str("component", "mailops").Logger(),
	}
}

var _ in.MailService = (*Service)(nil)

// =============================================================================
// Reads
// =============================================================================

func (s *Service) ListMessages(ctx context.Context, filter *domain.MessageFilter) ([]*domain.Message, error) {
	if filter == nil {
		filter = &domain.MessageFilter{}
	}
	return s.store.QueryMessages(ctx, filter)
}

func (s *Service) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	return s.store.GetMessage(ctx, id)
}

// GetMessageBody returns the cached body, fetching and caching it from the
// provider on first access.
func (s *Service) GetMessageBody(ctx context.Context, id string) (string, string, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return "", "", err
	}
	if msg.HasBody {
		return msg.BodyText, msg.BodyHTML, nil
	}

	provider, err := s.connect(ctx, msg.AccountID)
	if err != nil {
		return "", "", err
	}
	defer provider.Close()

	text, html, err := provider.FetchBody(ctx, id)
	if err != nil {
		return "", "", err
	}
	if err := s.store.UpdateMessageBody(ctx, id, text, html); err != nil {
		s.log.Warn().Err(err).Str("message_id", id).Msg("fetched body, but failed to cache it")
	}
	return text, html, nil
}

// =============================================================================
// Local mutations
// =============================================================================

func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.mutate(ctx, id, domain.OpMarkRead, func(tx out.Store) error {
		return tx.UpdateMessageRead(ctx, id, false)
	})
}

func (s *Service) MarkUnread(ctx context.Context, id string) error {
	return s.mutate(ctx, id, domain.OpMarkUnread, func(tx out.Store) error {
		return tx.UpdateMessageRead(ctx, id, true)
	})
}

func (s *Service) Trash(ctx context.Context, id string) error {
	return s.mutate(ctx, id, domain.OpTrash, func(tx out.Store) error {
		return tx.MoveToTrash(ctx, id)
	})
}

func (s *Service) Restore(ctx context.Context, id string) error {
	return s.mutate(ctx, id, domain.OpRestore, func(tx out.Store) error {
		return tx.RestoreFromTrash(ctx, id)
	})
}

// Delete removes the local row immediately. The queued echo carries no
// foreign key to the message, so it survives the delete and removes the
// provider copy on the next sync.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, id, domain.OpDelete, func(tx out.Store) error {
		return tx.DeleteMessage(ctx, id)
	})
}

// mutate applies the local write and queues the provider echo in one
// transaction.
func (s *Service) mutate(ctx context.Context, messageID, operation string, apply func(out.Store) error) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	err = s.store.WithTx(ctx, func(tx out.Store) error {
		if err := apply(tx); err != nil {
			return err
		}
		return tx.EnqueuePending(ctx, msg.AccountID, messageID, operation)
	})
	if err != nil {
		return err
	}
	s.log.Debug().
		Str("message_id", messageID).
		Str("operation", operation).
		Msg("queued local mutation")
	return nil
}

// =============================================================================
// Drafts
// =============================================================================

func (s *Service) SaveDraft(ctx context.Context, draft *domain.Draft) error {
	if draft == nil || draft.AccountID == "" {
		return apperr.InvalidInput("draft", "account id is required")
	}
	if _, err := s.store.GetAccount(ctx, draft.AccountID); err != nil {
		return err
	}
	return s.store.SaveDraft(ctx, draft)
}

func (s *Service) GetDraft(ctx context.Context, id string) (*domain.Draft, error) {
	return s.store.GetDraft(ctx, id)
}

func (s *Service) ListDrafts(ctx context.Context, accountID string) ([]*domain.Draft, error) {
	return s.store.ListDrafts(ctx, accountID)
}

func (s *Service) DeleteDraft(ctx context.Context, id string) error {
	return s.store.DeleteDraft(ctx, id)
}

// SendDraft builds the MIME message, hands it to the account's provider,
// and removes the draft once it is on the wire.
func (s *Service) SendDraft(ctx context.Context, draftID string) error {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	if len(draft.To) == 0 {
		return apperr.InvalidInput("to", "draft has no recipients")
	}
	account, err := s.store.GetAccount(ctx, draft.AccountID)
	if err != nil {
		return err
	}

	// The listing carries metadata only; pull the bytes per attachment.
	metas, err := s.store.ListDraftAttachments(ctx, draftID)
	if err != nil {
		return err
	}
	attachments := make([]*domain.Attachment, 0, len(metas))
	for _, meta := range metas {
		att, err := s.store.GetAttachment(ctx, meta.ID)
		if err != nil {
			return err
		}
		attachments = append(attachments, att)
	}

	raw, err := buildDraftMIME(account, draft, attachments)
	if err != nil {
		return err
	}

	provider, err := s.connectAccount(ctx, account)
	if err != nil {
		return err
	}
	defer provider.Close()

	if err := provider.SendMessage(ctx, raw, draft.ThreadID); err != nil {
		return err
	}
	if err := s.store.DeleteDraft(ctx, draftID); err != nil {
		s.log.Warn().Err(err).Str("draft_id", draftID).Msg("sent, but failed to remove draft")
	}
	s.log.Info().
		Str("draft_id", draftID).
		Str("account_id", account.ID).
		Int("attachments", len(attachments)).
		Msg("draft sent")
	return nil
}

// =============================================================================
// Attachments
// =============================================================================

// ListMessageAttachments serves cached rows, pulling provider-hosted
// attachments into the store on first access so later downloads work
// offline.
func (s *Service) ListMessageAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	cached, err := s.store.ListMessageAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 || !msg.HasAttachments {
		return cached, nil
	}

	provider, err := s.connect(ctx, msg.AccountID)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	listed, err := provider.ListAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}
	fetched := make([]*domain.Attachment, 0, len(listed))
	for _, item := range listed {
		att, err := provider.GetAttachment(ctx, messageID, item.ID)
		if err != nil {
			return nil, err
		}
		// Provider ids are only unique within one message; cached rows get
		// their own.
		fetched = append(fetched, &domain.Attachment{
			MessageID: messageID,
			Filename:  att.Filename,
			MimeType:  att.MimeType,
			Size:      att.Size,
			Data:      att.Data,
		})
	}
	if len(fetched) > 0 {
		err = s.store.WithTx(ctx, func(tx out.Store) error {
			for _, att := range fetched {
				if err := tx.SaveAttachment(ctx, att); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return s.store.ListMessageAttachments(ctx, messageID)
}

func (s *Service) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	return s.store.GetAttachment(ctx, id)
}

// =============================================================================
// Feedback & replies
// =============================================================================

// RecordFeedback stores the user's correction as a future few-shot example
// and rewrites the visible tags. The message row itself stays untouched;
// provider labels converge on the next sync pass.
func (s *Service) RecordFeedback(ctx context.Context, messageID string, correctedTags []string) error {
	if len(correctedTags) == 0 {
		return apperr.InvalidInput("corrected_tags", "must not be empty")
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	c, err := s.store.GetClassification(ctx, messageID)
	if err != nil {
		return err
	}
	feedback := &domain.Feedback{
		AccountID:      msg.AccountID,
		MessageID:      messageID,
		SenderDomain:   msg.SenderDomain(),
		SubjectPattern: domain.NormalizeSubjectPattern(msg.Subject),
		OriginalTags:   c.Tags,
		CorrectedTags:  correctedTags,
		Context:        msg.Snippet,
	}
	err = s.store.WithTx(ctx, func(tx out.Store) error {
		if err := tx.RecordFeedback(ctx, feedback); err != nil {
			return err
		}
		return tx.UpdateClassificationTags(ctx, messageID, correctedTags)
	})
	if err != nil {
		return err
	}
	s.log.Info().
		Str("message_id", messageID).
		Strs("original", c.Tags).
		Strs("corrected", correctedTags).
		Msg("classification corrected")
	return nil
}

func (s *Service) SuggestReplies(ctx context.Context, messageID string) ([]string, error) {
	if s.classifier == nil {
		return nil, apperr.Internal("reply suggestions are not configured", nil)
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	body := msg.Snippet
	if msg.HasBody && msg.BodyText != "" {
		body = msg.BodyText
	} else if !msg.HasBody {
		if text, _, err := s.GetMessageBody(ctx, messageID); err == nil && text != "" {
			body = text
		}
	}
	return s.classifier.SuggestReplies(ctx, msg, body)
}

// =============================================================================
// Trusted senders
// =============================================================================

func (s *Service) ListTrustedSenders(ctx context.Context, accountID string) ([]*domain.TrustedSender, error) {
	return s.store.ListTrustedSenders(ctx, accountID)
}

func (s *Service) AddTrustedSender(ctx context.Context, accountID, sender string) error {
	if sender == "" {
		return apperr.InvalidInput("sender", "must not be empty")
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return err
	}
	return s.store.AddTrustedSender(ctx, accountID, sender)
}

func (s *Service) RemoveTrustedSender(ctx context.Context, accountID, sender string) error {
	return s.store.RemoveTrustedSender(ctx, accountID, sender)
}

// =============================================================================
// Action log
// =============================================================================

func (s *Service) ListActionLogs(ctx context.Context, messageID string) ([]*domain.ActionLog, error) {
	return s.store.ListActionLogs(ctx, messageID)
}

// ResetActionLogs clears a message's audit rows, which also resets its
// action retry counters.
func (s *Service) ResetActionLogs(ctx context.Context, messageID string) error {
	deleted, err := s.store.DeleteActionLogs(ctx, messageID)
	if err != nil {
		return err
	}
	s.log.Debug().
		Str("message_id", messageID).
		Int64("deleted", deleted).
		Msg("action log reset")
	return nil
}

// =============================================================================
// Provider plumbing
// =============================================================================

// connect resolves the account and returns an authenticated provider. The
// caller owns the Close.
func (s *Service) connect(ctx context.Context, accountID string) (out.MailProvider, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.connectAccount(ctx, account)
}

func (s *Service) connectAccount(ctx context.Context, account *domain.Account) (out.MailProvider, error) {
	provider, err := s.providers.Create(ctx, account)
	if err != nil {
		return nil, err
	}
	if err := provider.Authenticate(ctx); err != nil {
		provider.Close()
		return nil, err
	}
	return provider, nil
}
