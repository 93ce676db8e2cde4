package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/credentials"
)

const (
	gmailFetchConcurrency = 5
	gmailMessageTimeout   = 20 * time.Second
)

// GmailProvider serves one Gmail account over the REST API. All calls run
// behind a per-account circuit breaker so a flapping upstream degrades to
// fast failures instead of piling up goroutines.
type GmailProvider struct {
	account   *domain.Account
	creds     *credentials.Loader
	tokenPath string
	cb        *gobreaker.CircuitBreaker
	log       zerolog.Logger

	svc *gmail.Service
	src *persistingTokenSource

	// labelID maps label name to provider id (system and user labels);
	// labelName is the reverse for user labels only, so synced messages
	// never carry system names as labels.
	labelMu   sync.RWMutex
	labelID   map[string]string
	labelName map[string]string
}

func NewGmailProvider(account *domain.Account, creds *credentials.Loader, log zerolog.Logger) *GmailProvider {
	logger := log.With().
		Str("component", "gmail_provider").
		Str("account_id", account.ID).
		Logger()

	cbSettings := gobreaker.Settings{
		Name:        "gmail-" + account.ID,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			var nt *noTripError
			return err == nil || errors.As(err, &nt)
		},
	}

	return &GmailProvider{
		account:   account,
		creds:     creds,
		tokenPath: account.SettingString("credentials_file"),
		cb:        gobreaker.NewCircuitBreaker(cbSettings),
		log:       logger,
		labelID:   make(map[string]string),
		labelName: make(map[string]string),
	}
}

func (p *GmailProvider) ProviderType() domain.Provider { return domain.ProviderGmail }

// =============================================================================
// Authentication
// =============================================================================

// Authenticate builds the refreshing token source from the on-disk token and
// probes it once, so a revoked grant fails here instead of mid-sync.
func (p *GmailProvider) Authenticate(ctx context.Context) error {
	if p.tokenPath == "" {
		return apperr.BadConfig(fmt.Sprintf("gmail account %s has no credentials_file", p.account.ID))
	}
	tok, err := p.creds.LoadOAuth(p.tokenPath)
	if err != nil {
		return err
	}

	conf := &oauth2.Config{
		ClientID:     tok.ClientID,
		ClientSecret: tok.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes: []string{
			gmail.GmailModifyScope,
			gmail.GmailLabelsScope,
			gmail.GmailSendScope,
		},
	}
	base := &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if base.TokenType == "" {
		base.TokenType = "Bearer"
	}

	src := &persistingTokenSource{
		src:   conf.TokenSource(context.Background(), base),
		creds: p.creds,
		path:  p.tokenPath,
		tok:   tok,
		last:  tok.AccessToken,
	}
	if _, err := src.Token(); err != nil {
		if strings.Contains(err.Error(), "invalid_grant") {
			return apperr.TokenExpired("gmail").WithError(err)
		}
		return apperr.AuthRejected("gmail", err)
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return apperr.Connection("gmail", err)
	}
	p.svc = svc
	p.src = src
	return nil
}

// persistingTokenSource wraps the refreshing source and writes each new
// access token back to disk, so a restart does not burn another refresh.
type persistingTokenSource struct {
	mu    sync.Mutex
	src   oauth2.TokenSource
	creds *credentials.Loader
	path  string
	tok   *credentials.OAuthToken
	last  string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if t.AccessToken != s.last {
		s.tok.AccessToken = t.AccessToken
		if t.RefreshToken != "" {
			s.tok.RefreshToken = t.RefreshToken
		}
		s.tok.TokenType = t.TokenType
		s.tok.Expiry = t.Expiry
		s.creds.SaveOAuth(s.path, s.tok)
		s.last = t.AccessToken
	}
	return t, nil
}

// =============================================================================
// Circuit breaker plumbing
// =============================================================================

// noTripError marks client-side failures (bad request, auth, not found) that
// must not count against the breaker: they say nothing about upstream health.
type noTripError struct {
	err error
}

func (e *noTripError) Error() string { return e.err.Error() }
func (e *noTripError) Unwrap() error { return e.err }

// call runs fn behind the breaker and maps the outcome onto the application
// error kinds.
func (p *GmailProvider) call(ctx context.Context, operation string, fn func() error) error {
	if p.svc == nil {
		return apperr.AuthRejected("gmail", fmt.Errorf("provider not authenticated"))
	}
	_, err := p.cb.Execute(func() (any, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 400, 401, 403, 404:
					return nil, &noTripError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})
	var nt *noTripError
	if errors.As(err, &nt) {
		err = nt.err
	}
	if err != nil {
		p.log.Debug().
			Str("operation", operation).
			Str("breaker_state", p.cb.State().String()).
			Err(err).
			Msg("gmail call failed")
	}
	return p.wrapError(operation, err)
}

func (p *GmailProvider) wrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Connection("gmail", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout("gmail "+operation, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return apperr.TokenExpired("gmail").WithError(err)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") || hasRateReason(apiErr) {
				return apperr.RateLimited("gmail").WithError(err)
			}
			return apperr.PolicyDenied("gmail denied "+operation, err)
		case 404:
			return apperr.NotFound("message").WithError(err)
		case 429:
			return apperr.RateLimited("gmail").WithError(err)
		}
		if apiErr.Code >= 500 {
			return apperr.Connection("gmail", err)
		}
		return apperr.Protocol("gmail "+operation+" failed", err)
	}
	return apperr.Connection("gmail", err)
}

func hasRateReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if strings.Contains(item.Reason, "ateLimit") {
			return true
		}
	}
	return false
}

// =============================================================================
// Fetching
// =============================================================================

func (p *GmailProvider) FetchMessages(ctx context.Context, since *time.Time, maxResults int) ([]*domain.Message, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	if err := p.ensureLabelCache(ctx); err != nil {
		p.log.Warn().Err(err).Msg("label cache refresh failed, system ids pass through untranslated")
	}

	var refs []*gmail.Message
	pageToken := ""
	for {
		req := p.svc.Users.Messages.List("me").MaxResults(int64(maxResults))
		if since != nil {
			req = req.Q(fmt.Sprintf("after:%s", since.Format("2006/01/02")))
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		err := p.call(ctx, "list messages", func() error {
			var err error
			resp, err = req.Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, err
		}

		refs = append(refs, resp.Messages...)
		if resp.NextPageToken == "" || len(refs) >= maxResults {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(refs) > maxResults {
		refs = refs[:maxResults]
	}

	return p.fetchMessagesParallel(ctx, refs), nil
}

// fetchMessagesParallel hydrates message refs with bounded concurrency and a
// per-message timeout. Messages that fail to load are dropped; order is
// preserved for the rest.
func (p *GmailProvider) fetchMessagesParallel(ctx context.Context, refs []*gmail.Message) []*domain.Message {
	if len(refs) == 0 {
		return nil
	}

	type result struct {
		index int
		msg   *domain.Message
		err   error
	}
	results := make(chan result, len(refs))
	sem := make(chan struct{}, gmailFetchConcurrency)

	for i, ref := range refs {
		go func(idx int, id string) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- result{index: idx, err: ctx.Err()}
				return
			}

			msgCtx, cancel := context.WithTimeout(ctx, gmailMessageTimeout)
			defer cancel()

			var msg *gmail.Message
			err := p.call(msgCtx, "get message", func() error {
				var err error
				msg, err = p.svc.Users.Messages.Get("me", id).Format("full").Context(msgCtx).Do()
				return err
			})
			if err != nil {
				results <- result{index: idx, err: err}
				return
			}
			results <- result{index: idx, msg: p.convertMessage(msg)}
		}(i, ref.Id)
	}

	ordered := make([]*domain.Message, len(refs))
	for range refs {
		r := <-results
		if r.err != nil {
			p.log.Warn().Int("index", r.index).Err(r.err).Msg("dropping message that failed to load")
			continue
		}
		ordered[r.index] = r.msg
	}

	kept := make([]*domain.Message, 0, len(refs))
	for _, msg := range ordered {
		if msg != nil {
			kept = append(kept, msg)
		}
	}
	return kept
}

func (p *GmailProvider) convertMessage(msg *gmail.Message) *domain.Message {
	result := &domain.Message{
		ID:        msg.Id,
		AccountID: p.account.ID,
		ThreadID:  msg.ThreadId,
		Snippet:   msg.Snippet,
		IsUnread:  hasLabelID(msg.LabelIds, "UNREAD"),
		Folder:    gmailFolder(msg.LabelIds),
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				result.Subject = h.Value
			case "From":
				result.From = h.Value
			case "To":
				result.To = splitAddressList(h.Value)
			case "Date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					result.Date = t.UTC()
				}
			}
		}
	}
	if result.Date.IsZero() && msg.InternalDate > 0 {
		result.Date = time.UnixMilli(msg.InternalDate).UTC()
	}

	p.labelMu.RLock()
	for _, id := range msg.LabelIds {
		if name, ok := p.labelName[id]; ok {
			result.Labels = append(result.Labels, name)
		}
	}
	p.labelMu.RUnlock()

	if msg.Payload != nil {
		result.HasAttachments = payloadHasAttachments(msg.Payload)
		var text, html string
		extractGmailBody(msg.Payload, &text, &html)
		result.BodyText = text
	}
	return result
}

// gmailFolder derives the logical folder from system label ids. Mail outside
// every folder label is archived mail.
func gmailFolder(labelIDs []string) string {
	switch {
	case hasLabelID(labelIDs, "TRASH"):
		return domain.FolderTrash
	case hasLabelID(labelIDs, "DRAFT"):
		return domain.FolderDrafts
	case hasLabelID(labelIDs, "INBOX"):
		return domain.FolderInbox
	case hasLabelID(labelIDs, "SENT"):
		return domain.FolderSent
	default:
		return domain.FolderArchive
	}
}

func hasLabelID(labelIDs []string, id string) bool {
	for _, l := range labelIDs {
		if l == id {
			return true
		}
	}
	return false
}

func splitAddressList(s string) []string {
	list, err := mail.ParseAddressList(s)
	if err != nil {
		if s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, len(list))
	for i, addr := range list {
		if addr.Name != "" {
			out[i] = fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
		} else {
			out[i] = addr.Address
		}
	}
	return out
}

func payloadHasAttachments(part *gmail.MessagePart) bool {
	if part == nil {
		return false
	}
	if part.Filename != "" {
		return true
	}
	for _, child := range part.Parts {
		if payloadHasAttachments(child) {
			return true
		}
	}
	return false
}

func extractGmailBody(part *gmail.MessagePart, text, html *string) {
	if part == nil {
		return
	}
	if part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				if *text == "" {
					*text = string(data)
				}
			case "text/html":
				if *html == "" {
					*html = string(data)
				}
			}
		}
	}
	for _, child := range part.Parts {
		extractGmailBody(child, text, html)
	}
}

func (p *GmailProvider) FetchBody(ctx context.Context, messageID string) (string, string, error) {
	var msg *gmail.Message
	err := p.call(ctx, "get message body", func() error {
		var err error
		msg, err = p.svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", "", err
	}

	var text, html string
	extractGmailBody(msg.Payload, &text, &html)
	if html != "" {
		html = sanitizeHTML(html)
	}
	if text == "" && html != "" {
		text = htmlToText(html)
	}
	return text, html, nil
}

// =============================================================================
// Labels
// =============================================================================

func (p *GmailProvider) ensureLabelCache(ctx context.Context) error {
	var resp *gmail.ListLabelsResponse
	err := p.call(ctx, "list labels", func() error {
		var err error
		resp, err = p.svc.Users.Labels.List("me").Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}

	p.labelMu.Lock()
	defer p.labelMu.Unlock()
	p.labelID = make(map[string]string, len(resp.Labels))
	p.labelName = make(map[string]string)
	for _, label := range resp.Labels {
		p.labelID[label.Name] = label.Id
		if label.Type != "system" {
			p.labelName[label.Id] = label.Name
		}
	}
	return nil
}

func (p *GmailProvider) ListLabels(ctx context.Context) (map[string]string, error) {
	if err := p.ensureLabelCache(ctx); err != nil {
		return nil, err
	}
	p.labelMu.RLock()
	defer p.labelMu.RUnlock()
	labels := make(map[string]string, len(p.labelID))
	for name, id := range p.labelID {
		labels[name] = id
	}
	return labels, nil
}

// EnsureLabelsExist creates any label the account does not have yet. A
// concurrent creator racing us to the same name just refreshes the cache.
func (p *GmailProvider) EnsureLabelsExist(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if err := p.ensureLabelCache(ctx); err != nil {
		return err
	}

	for _, name := range names {
		p.labelMu.RLock()
		_, exists := p.labelID[name]
		p.labelMu.RUnlock()
		if exists {
			continue
		}

		var created *gmail.Label
		err := p.call(ctx, "create label", func() error {
			var err error
			created, err = p.svc.Users.Labels.Create("me", &gmail.Label{
				Name:                  name,
				LabelListVisibility:   "labelShow",
				MessageListVisibility: "show",
			}).Context(ctx).Do()
			return err
		})
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == 409 {
				if err := p.ensureLabelCache(ctx); err != nil {
					return err
				}
				continue
			}
			return err
		}

		p.labelMu.Lock()
		p.labelID[created.Name] = created.Id
		p.labelName[created.Id] = created.Name
		p.labelMu.Unlock()
	}
	return nil
}

func (p *GmailProvider) UpdateLabels(ctx context.Context, messageID string, add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	if err := p.ensureLabelCache(ctx); err != nil {
		return err
	}
	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    p.labelIDsFor(add),
		RemoveLabelIds: p.labelIDsFor(remove),
	}
	if len(req.AddLabelIds) == 0 && len(req.RemoveLabelIds) == 0 {
		return nil
	}
	return p.call(ctx, "modify labels", func() error {
		_, err := p.svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
		return err
	})
}

// labelIDsFor translates label names to ids, skipping names the account does
// not know: callers ensure creation first, so a miss here is a stale request.
func (p *GmailProvider) labelIDsFor(names []string) []string {
	p.labelMu.RLock()
	defer p.labelMu.RUnlock()
	var ids []string
	for _, name := range names {
		if name == "" {
			continue
		}
		if id, ok := p.labelID[name]; ok {
			ids = append(ids, id)
			continue
		}
		p.log.Warn().Str("label", name).Msg("skipping unknown label")
	}
	return ids
}

// =============================================================================
// Read state and folder moves
// =============================================================================

func (p *GmailProvider) MarkRead(ctx context.Context, messageID string) error {
	return p.modify(ctx, messageID, nil, []string{"UNREAD"})
}

func (p *GmailProvider) MarkUnread(ctx context.Context, messageID string) error {
	return p.modify(ctx, messageID, []string{"UNREAD"}, nil)
}

func (p *GmailProvider) modify(ctx context.Context, messageID string, add, remove []string) error {
	req := &gmail.ModifyMessageRequest{AddLabelIds: add, RemoveLabelIds: remove}
	return p.call(ctx, "modify message", func() error {
		_, err := p.svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
		return err
	})
}

func (p *GmailProvider) MoveToTrash(ctx context.Context, messageID string) error {
	return p.call(ctx, "trash message", func() error {
		_, err := p.svc.Users.Messages.Trash("me", messageID).Context(ctx).Do()
		return err
	})
}

// RestoreFromTrash untrashes; Gmail reinstates the prior labels itself, so
// originalFolder is advisory here.
func (p *GmailProvider) RestoreFromTrash(ctx context.Context, messageID, _ string) error {
	return p.call(ctx, "untrash message", func() error {
		_, err := p.svc.Users.Messages.Untrash("me", messageID).Context(ctx).Do()
		return err
	})
}

func (p *GmailProvider) Delete(ctx context.Context, messageID string, permanent bool) error {
	if !permanent {
		return p.MoveToTrash(ctx, messageID)
	}
	return p.call(ctx, "delete message", func() error {
		return p.svc.Users.Messages.Delete("me", messageID).Context(ctx).Do()
	})
}

// =============================================================================
// Sending
// =============================================================================

func (p *GmailProvider) SendMessage(ctx context.Context, raw []byte, threadID string) error {
	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: threadID,
	}
	return p.call(ctx, "send message", func() error {
		_, err := p.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
		return err
	})
}

// =============================================================================
// Attachments
// =============================================================================

func (p *GmailProvider) ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	msg, err := p.getFull(ctx, messageID)
	if err != nil {
		return nil, err
	}
	var attachments []*domain.Attachment
	collectGmailAttachments(msg.Payload, messageID, &attachments)
	return attachments, nil
}

func collectGmailAttachments(part *gmail.MessagePart, messageID string, acc *[]*domain.Attachment) {
	if part == nil {
		return
	}
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		*acc = append(*acc, &domain.Attachment{
			ID:        part.Body.AttachmentId,
			MessageID: messageID,
			Filename:  part.Filename,
			MimeType:  part.MimeType,
			Size:      part.Body.Size,
		})
	}
	for _, child := range part.Parts {
		collectGmailAttachments(child, messageID, acc)
	}
}

func (p *GmailProvider) GetAttachment(ctx context.Context, messageID, attachmentID string) (*domain.Attachment, error) {
	msg, err := p.getFull(ctx, messageID)
	if err != nil {
		return nil, err
	}
	var attachments []*domain.Attachment
	collectGmailAttachments(msg.Payload, messageID, &attachments)

	var meta *domain.Attachment
	for _, att := range attachments {
		if att.ID == attachmentID {
			meta = att
			break
		}
	}
	if meta == nil {
		return nil, apperr.NotFound("attachment")
	}

	var body *gmail.MessagePartBody
	err = p.call(ctx, "get attachment", func() error {
		var err error
		body, err = p.svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	data, err := base64.URLEncoding.DecodeString(body.Data)
	if err != nil {
		return nil, apperr.Protocol("attachment payload is not base64url", err)
	}
	meta.Data = data
	meta.Size = int64(len(data))
	return meta, nil
}

func (p *GmailProvider) getFull(ctx context.Context, messageID string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := p.call(ctx, "get message", func() error {
		var err error
		msg, err = p.svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return err
	})
	return msg, err
}

// Close has nothing to release: the HTTP client pools its own connections.
func (p *GmailProvider) Close() error { return nil }

var _ out.MailProvider = (*GmailProvider)(nil)
