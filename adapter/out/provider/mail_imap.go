package provider

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/credentials"
)

// defaultIMAPPort is implicit TLS; defaultSMTPPort is submission with STARTTLS.
const (
	defaultIMAPPort = 993
	defaultSMTPPort = 587
)

// IMAPProvider serves one IMAP/SMTP account. All IMAP traffic goes through
// the shared pool, one session per account; SMTP dials per send.
type IMAPProvider struct {
	account *domain.Account
	cfg     imapConfig
	smtp    smtpConfig
	pool    *Pool
	creds   *credentials.Loader
	log     zerolog.Logger
}

// imapConfigFromAccount builds the connection config from account settings,
// applying the implicit-TLS defaults.
func imapConfigFromAccount(account *domain.Account) (imapConfig, error) {
	host := account.SettingString("imap_host")
	if host == "" {
		return imapConfig{}, apperr.BadConfig(fmt.Sprintf("imap account %s has no imap_host", account.ID))
	}

	cfg := imapConfig{
		Host:     host,
		Port:     account.SettingInt("imap_port"),
		Security: account.SettingString("imap_security"),
		Username: account.SettingString("imap_username"),
	}
	if cfg.Port == 0 {
		cfg.Port = defaultIMAPPort
	}
	if cfg.Security == "" {
		cfg.Security = securityTLS
	}
	if cfg.Username == "" {
		cfg.Username = account.Email
	}
	return cfg, nil
}

// resolveIMAPAuth reads the account's secret into cfg. Called on every dial
// so rotated passwords and externally refreshed tokens get picked up at the
// next reconnect.
func resolveIMAPAuth(creds *credentials.Loader, account *domain.Account, cfg *imapConfig) error {
	passwordPath := account.SettingString("password_file")
	tokenPath := account.SettingString("token_file")
	switch {
	case passwordPath != "":
		password, err := creds.LoadPassword(passwordPath)
		if err != nil {
			return err
		}
		cfg.Password = password
	case tokenPath != "":
		tok, err := creds.LoadOAuth(tokenPath)
		if err != nil {
			return err
		}
		cfg.AccessToken = tok.AccessToken
	default:
		return apperr.BadConfig(fmt.Sprintf("imap account %s has neither password_file nor token_file", account.ID))
	}
	return nil
}

func NewIMAPProvider(account *domain.Account, creds *credentials.Loader, pool *Pool, log zerolog.Logger) (*IMAPProvider, error) {
	cfg, err := imapConfigFromAccount(account)
	if err != nil {
		return nil, err
	}

	smtpCfg := smtpConfig{
		Host:     account.SettingString("smtp_host"),
		Port:     account.SettingInt("smtp_port"),
		Security: account.SettingString("smtp_security"),
		Username: cfg.Username,
	}
	if smtpCfg.Host == "" {
		smtpCfg.Host = cfg.Host
	}
	if smtpCfg.Port == 0 {
		smtpCfg.Port = defaultSMTPPort
	}
	if smtpCfg.Security == "" {
		smtpCfg.Security = securityStartTLS
	}

	return &IMAPProvider{
		account: account,
		cfg:     cfg,
		smtp:    smtpCfg,
		pool:    pool,
		creds:   creds,
		log: log.With().
			Str("component", "imap_provider").
			Str("account_id", account.ID).
			Logger(),
	}, nil
}

func (p *IMAPProvider) ProviderType() domain.Provider { return domain.ProviderIMAP }

// Authenticate dials once so credential and connectivity problems surface
// before the first sync touches this account.
func (p *IMAPProvider) Authenticate(ctx context.Context) error {
	return p.withSession(ctx, func(*imapSession) error { return nil })
}

func (p *IMAPProvider) withSession(ctx context.Context, fn func(*imapSession) error) error {
	return p.pool.With(ctx, p.account.ID, p.dial, fn)
}

func (p *IMAPProvider) dial(ctx context.Context) (*imapSession, error) {
	cfg := p.cfg
	if err := resolveIMAPAuth(p.creds, p.account, &cfg); err != nil {
		return nil, err
	}
	return dialIMAP(ctx, cfg, sessionIOTimeout, nil, p.log)
}

// parseID splits a local message id into the server mailbox and uid, checking
// that it belongs to this provider's account.
func (p *IMAPProvider) parseID(messageID string) (folder string, uid imap.UID, err error) {
	accountID, folder, n, err := domain.ParseIMAPMessageID(messageID)
	if err != nil {
		return "", 0, apperr.InvalidInput("message_id", err.Error())
	}
	if accountID != p.account.ID {
		return "", 0, apperr.InvalidInput("message_id", "belongs to a different account")
	}
	return folder, imap.UID(n), nil
}

// =============================================================================
// Fetching
// =============================================================================

// syncFolders are the logical folders a sync round covers, in budget order.
var syncFolders = []string{domain.FolderInbox, domain.FolderSent, domain.FolderTrash}

func (p *IMAPProvider) FetchMessages(ctx context.Context, since *time.Time, maxResults int) ([]*domain.Message, error) {
	var messages []*domain.Message
	err := p.withSession(ctx, func(s *imapSession) error {
		var present []string
		for _, logical := range syncFolders {
			if _, ok := s.serverFolder(logical); ok {
				present = append(present, logical)
			}
		}
		budgets := splitFetchBudget(maxResults, len(present))

		var lastErr error
		fetched := 0
		for i, logical := range present {
			if err := ctx.Err(); err != nil {
				return apperr.Timeout("imap fetch", err)
			}
			server, _ := s.serverFolder(logical)
			envelopes, err := s.fetchEnvelopes(server, since, budgets[i])
			if err != nil {
				p.log.Warn().Str("folder", server).Err(err).Msg("folder fetch failed, continuing")
				lastErr = err
				continue
			}
			fetched++
			for _, env := range envelopes {
				messages = append(messages, p.toDomainMessage(logical, server, env))
			}
		}
		if fetched == 0 && lastErr != nil {
			return lastErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (p *IMAPProvider) toDomainMessage(logical, server string, env *envelopeData) *domain.Message {
	msg := &domain.Message{
		ID:             domain.IMAPMessageID(p.account.ID, server, uint32(env.UID)),
		AccountID:      p.account.ID,
		Subject:        env.Subject,
		From:           env.From,
		To:             env.To,
		Date:           env.Date.UTC(),
		IsUnread:       !slices.Contains(env.Flags, imap.FlagSeen),
		Folder:         logical,
		ProviderFolder: server,
		HasAttachments: env.HasAttachments,
	}
	for _, flag := range env.Flags {
		if name := string(flag); strings.HasPrefix(name, "$") {
			msg.Labels = append(msg.Labels, labelForKeyword(name))
		}
	}
	return msg
}

func (p *IMAPProvider) FetchBody(ctx context.Context, messageID string) (string, string, error) {
	folder, uid, err := p.parseID(messageID)
	if err != nil {
		return "", "", err
	}
	var text, html string
	err = p.withSession(ctx, func(s *imapSession) error {
		raw, err := s.fetchBodyRaw(folder, uid)
		if err != nil {
			return err
		}
		text, html = extractBodyParts(raw)
		return nil
	})
	return text, html, err
}

// =============================================================================
// Labels
// =============================================================================

// ListLabels reports the keyword flags the inbox has seen. IMAP has no label
// registry, so name maps to name.
func (p *IMAPProvider) ListLabels(ctx context.Context) (map[string]string, error) {
	labels := make(map[string]string)
	err := p.withSession(ctx, func(s *imapSession) error {
		inbox, _ := s.serverFolder(domain.FolderInbox)
		if err := s.selectFolder(inbox); err != nil {
			return err
		}
		for _, flag := range s.selected.Flags {
			if name := string(flag); strings.HasPrefix(name, "$") {
				label := labelForKeyword(name)
				labels[label] = label
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// EnsureLabelsExist is a no-op: keyword flags materialize on first STORE.
func (p *IMAPProvider) EnsureLabelsExist(ctx context.Context, names []string) error {
	p.log.Debug().Strs("labels", names).Msg("keywords materialize on first store")
	return nil
}

func (p *IMAPProvider) UpdateLabels(ctx context.Context, messageID string, add, remove []string) error {
	folder, uid, err := p.parseID(messageID)
	if err != nil {
		return err
	}
	return p.withSession(ctx, func(s *imapSession) error {
		if err := s.selectFolder(folder); err != nil {
			return err
		}
		if !s.keywordsSupported() {
			p.log.Debug().Str("folder", folder).Msg("mailbox rejects custom keywords, skipping label update")
			return nil
		}
		if flags := keywordFlags(add); len(flags) > 0 {
			if err := s.storeFlags(folder, uid, imap.StoreFlagsAdd, flags...); err != nil {
				return err
			}
		}
		if flags := keywordFlags(remove); len(flags) > 0 {
			if err := s.storeFlags(folder, uid, imap.StoreFlagsDel, flags...); err != nil {
				return err
			}
		}
		return nil
	})
}

// keywordFlags converts label names to keyword flags, dropping the synthetic
// system names that only exist provider-side on the API variant.
func keywordFlags(names []string) []imap.Flag {
	var flags []imap.Flag
	for _, name := range names {
		if name == "" || systemLabels[strings.ToUpper(name)] {
			continue
		}
		flags = append(flags, imap.Flag(keywordForLabel(name)))
	}
	return flags
}

// =============================================================================
// Read state and folder moves
// =============================================================================

func (p *IMAPProvider) MarkRead(ctx context.Context, messageID string) error {
	return p.setSeen(ctx, messageID, true)
}

func (p *IMAPProvider) MarkUnread(ctx context.Context, messageID string) error {
	return p.setSeen(ctx, messageID, false)
}

func (p *IMAPProvider) setSeen(ctx context.Context, messageID string, seen bool) error {
	folder, uid, err := p.parseID(messageID)
	if err != nil {
		return err
	}
	op := imap.StoreFlagsDel
	if seen {
		op = imap.StoreFlagsAdd
	}
	return p.withSession(ctx, func(s *imapSession) error {
		return s.storeFlags(folder, uid, op, imap.FlagSeen)
	})
}

func (p *IMAPProvider) MoveToTrash(ctx context.Context, messageID string) error {
	folder, uid, err := p.parseID(messageID)
	if err != nil {
		return err
	}
	return p.withSession(ctx, func(s *imapSession) error {
		trash, ok := s.serverFolder(domain.FolderTrash)
		if !ok {
			p.log.Warn().Msg("no trash mailbox discovered, deleting permanently")
			return s.deleteInPlace(folder, uid)
		}
		if folder == trash {
			return nil
		}
		return s.moveTo(folder, uid, trash)
	})
}

// RestoreFromTrash moves a message out of the trash mailbox. The id names the
// trash copy, so a stale pre-trash id simply no-ops when the uid is gone.
func (p *IMAPProvider) RestoreFromTrash(ctx context.Context, messageID, originalFolder string) error {
	folder, uid, err := p.parseID(messageID)
	if err != nil {
		return err
	}
	return p.withSession(ctx, func(s *imapSession) error {
		var dest string
		var ok bool
		if originalFolder != "" {
			dest, ok = s.serverFolder(originalFolder)
		}
		if !ok {
			dest, _ = s.serverFolder(domain.FolderInbox)
		}
		if folder == dest {
			return nil
		}
		return s.moveTo(folder, uid, dest)
	})
}

func (p *IMAPProvider) Delete(ctx context.Context, messageID string, permanent bool) error {
	if !permanent {
		return p.MoveToTrash(ctx, messageID)
	}
	folder, uid, err := p.parseID(messageID)
	if err != nil {
		return err
	}
	return p.withSession(ctx, func(s *imapSession) error {
		return s.deleteInPlace(folder, uid)
	})
}

// moveTo is copy + flag + expunge: the COPY/STORE/EXPUNGE fallback works on
// every server, unlike the MOVE extension.
func (s *imapSession) moveTo(folder string, uid imap.UID, dest string) error {
	if err := s.copyTo(folder, uid, dest); err != nil {
		return err
	}
	return s.deleteInPlace(folder, uid)
}

func (s *imapSession) deleteInPlace(folder string, uid imap.UID) error {
	if err := s.storeFlags(folder, uid, imap.StoreFlagsAdd, imap.FlagDeleted); err != nil {
		return err
	}
	return s.expunge(uid)
}

// =============================================================================
// Sending
// =============================================================================

// SendMessage submits the raw message over SMTP, then files a copy into the
// sent mailbox. Threading on IMAP rides the References headers already in the
// message, so threadID is unused here.
func (p *IMAPProvider) SendMessage(ctx context.Context, raw []byte, _ string) error {
	recipients, err := envelopeRecipients(raw)
	if err != nil {
		return err
	}

	smtpCfg := p.smtp
	if err := p.resolveSMTPAuth(&smtpCfg); err != nil {
		return err
	}
	if err := sendSMTP(ctx, smtpCfg, p.account.Email, recipients, raw); err != nil {
		return err
	}

	appendErr := p.withSession(ctx, func(s *imapSession) error {
		sent, ok := s.serverFolder(domain.FolderSent)
		if !ok {
			return nil
		}
		_, err := s.appendMessage(sent, raw, []imap.Flag{imap.FlagSeen}, time.Now())
		return err
	})
	if appendErr != nil {
		// The message left the building; a missing sent copy is not worth
		// failing the send over.
		p.log.Warn().Err(appendErr).Msg("sent, but failed to file copy into sent mailbox")
	}
	return nil
}

func (p *IMAPProvider) resolveSMTPAuth(cfg *smtpConfig) error {
	if passwordPath := p.account.SettingString("password_file"); passwordPath != "" {
		password, err := p.creds.LoadPassword(passwordPath)
		if err != nil {
			return err
		}
		cfg.Password = password
	}
	return nil
}

// envelopeRecipients collects To, Cc and Bcc addresses from the message
// headers for the SMTP envelope.
func envelopeRecipients(raw []byte) ([]string, error) {
	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, apperr.InvalidInput("message", "unparseable MIME message")
	}
	header := mail.Header{Header: ent.Header}

	var recipients []string
	for _, field := range []string{"To", "Cc", "Bcc"} {
		addrs, err := header.AddressList(field)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if addr.Address != "" {
				recipients = append(recipients, addr.Address)
			}
		}
	}
	if len(recipients) == 0 {
		return nil, apperr.InvalidInput("recipients", "message has no recipients")
	}
	return recipients, nil
}

// =============================================================================
// Attachments
// =============================================================================

// ListAttachments fetches the full message and lifts out attachment metadata.
// Attachment ids are 1-based part indexes, stable for a given message.
func (p *IMAPProvider) ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	attachments, err := p.rawAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Attachment, 0, len(attachments))
	for _, att := range attachments {
		out = append(out, &domain.Attachment{
			ID:        strconv.Itoa(att.Index),
			MessageID: messageID,
			Filename:  att.Filename,
			MimeType:  att.MimeType,
			Size:      int64(len(att.Data)),
		})
	}
	return out, nil
}

func (p *IMAPProvider) GetAttachment(ctx context.Context, messageID, attachmentID string) (*domain.Attachment, error) {
	index, err := strconv.Atoi(attachmentID)
	if err != nil || index < 1 {
		return nil, apperr.InvalidInput("attachment_id", "not a part index")
	}
	attachments, err := p.rawAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}
	for _, att := range attachments {
		if att.Index == index {
			return &domain.Attachment{
				ID:        attachmentID,
				MessageID: messageID,
				Filename:  att.Filename,
				MimeType:  att.MimeType,
				Size:      int64(len(att.Data)),
				Data:      att.Data,
			}, nil
		}
	}
	return nil, apperr.NotFound("attachment")
}

func (p *IMAPProvider) rawAttachments(ctx context.Context, messageID string) ([]mimeAttachment, error) {
	folder, uid, err := p.parseID(messageID)
	if err != nil {
		return nil, err
	}
	var attachments []mimeAttachment
	err = p.withSession(ctx, func(s *imapSession) error {
		raw, err := s.fetchBodyRaw(folder, uid)
		if err != nil {
			return err
		}
		attachments = extractAttachments(raw)
		return nil
	})
	return attachments, err
}

// Close drops this account's pooled session.
func (p *IMAPProvider) Close() error {
	p.pool.CloseAccount(p.account.ID)
	return nil
}
