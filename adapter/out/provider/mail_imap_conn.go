package provider

import (
	"cmp"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

const (
	securityTLS      = "tls"
	securityStartTLS = "starttls"
	securityNone     = "none"

	connectTimeout = 15 * time.Second
	// sessionIOTimeout bounds every socket read and write on pooled
	// sessions. IDLE connections get a longer budget, see mail_idle.go.
	sessionIOTimeout = 30 * time.Second

	// maxBodyBytes caps how much of one message literal we pull into memory.
	maxBodyBytes = 8 << 20
)

// imapConfig is the connection half of an IMAP account's settings. Exactly
// one of Password and AccessToken is set, depending on whether the account
// points at a password file or an OAuth token file.
type imapConfig struct {
	Host        string
	Port        int
	Security    string
	Username    string
	Password    string
	AccessToken string
}

func (c imapConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// deadlineConn arms a fresh deadline before every read and write so a stalled
// server surfaces as an I/O timeout instead of a hung goroutine.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

// imapSession is one authenticated connection with its discovered folder map
// and the currently selected mailbox. Sessions are not safe for concurrent
// use; the pool serializes access per account.
type imapSession struct {
	client *imapclient.Client
	caps   imap.CapSet

	// folders maps logical names (inbox, sent, trash, drafts, archive) to
	// server mailbox names. all holds every selectable mailbox.
	folders map[string]string
	all     []string

	current  string
	selected *imap.SelectData

	cfg imapConfig
	log zerolog.Logger
}

// dialIMAP connects, waits for the greeting and authenticates. ioTimeout
// bounds each socket operation; pass a generous value for IDLE connections.
func dialIMAP(ctx context.Context, cfg imapConfig, ioTimeout time.Duration, opts *imapclient.Options, log zerolog.Logger) (*imapSession, error) {
	if opts == nil {
		opts = &imapclient.Options{}
	}
	addr := cfg.addr()

	var client *imapclient.Client
	switch cfg.Security {
	case securityStartTLS:
		c, err := imapclient.DialStartTLS(addr, opts)
		if err != nil {
			return nil, apperr.Connection(addr, err)
		}
		client = c
	case securityNone:
		dialer := net.Dialer{Timeout: connectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, apperr.Connection(addr, err)
		}
		client = imapclient.New(&deadlineConn{Conn: conn, timeout: ioTimeout}, opts)
	default: // implicit TLS
		dialer := net.Dialer{Timeout: connectTimeout}
		conn, err := tls.DialWithDialer(&dialer, "tcp", addr, &tls.Config{ServerName: cfg.Host})
		if err != nil {
			return nil, apperr.Connection(addr, err)
		}
		client = imapclient.New(&deadlineConn{Conn: conn, timeout: ioTimeout}, opts)
	}

	if err := client.WaitGreeting(); err != nil {
		client.Close()
		return nil, apperr.Connection(addr, err)
	}

	s := &imapSession{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("host", cfg.Host).Logger(),
	}
	if err := s.login(); err != nil {
		client.Close()
		return nil, err
	}
	if err := s.discoverFolders(); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *imapSession) login() error {
	caps, err := s.client.Capability().Wait()
	if err != nil {
		return apperr.Connection(s.cfg.addr(), err)
	}
	s.caps = caps

	switch {
	case s.cfg.AccessToken != "" && caps.Has(imap.Cap("AUTH=OAUTHBEARER")):
		err = s.client.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: s.cfg.Username,
			Token:    s.cfg.AccessToken,
		}))
	case s.cfg.AccessToken != "" && caps.Has(imap.Cap("AUTH=XOAUTH2")):
		err = s.client.Authenticate(newXoauth2Client(s.cfg.Username, s.cfg.AccessToken))
	case s.cfg.AccessToken != "":
		return apperr.AuthRejected("imap", fmt.Errorf("account has an OAuth token but server offers neither OAUTHBEARER nor XOAUTH2"))
	case caps.Has(imap.AuthCap(sasl.Plain)):
		err = s.client.Authenticate(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password))
	case caps.Has(imap.CapLoginDisabled):
		return apperr.AuthRejected("imap", fmt.Errorf("server disables LOGIN and offers no PLAIN mechanism"))
	default:
		err = s.client.Login(s.cfg.Username, s.cfg.Password).Wait()
	}
	if err != nil {
		return apperr.AuthRejected("imap", err)
	}

	// Capabilities can change after authentication (e.g. UIDPLUS appears).
	if caps, err := s.client.Capability().Wait(); err == nil {
		s.caps = caps
	}
	return nil
}

// xoauth2Client implements the SASL XOAUTH2 mechanism, which predates
// OAUTHBEARER and is still the only OAuth mechanism some providers accept.
type xoauth2Client struct {
	username string
	token    string
}

func newXoauth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", ir, nil
}

// Next handles the error challenge: the server sends a JSON blob and expects
// an empty response before it issues the final NO.
func (c *xoauth2Client) Next(_ []byte) ([]byte, error) {
	return []byte{}, nil
}

func (s *imapSession) close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *imapSession) noop() error {
	if s == nil || s.client == nil {
		return apperr.Connection("imap", fmt.Errorf("session not connected"))
	}
	return s.client.Noop().Wait()
}

// =============================================================================
// Folder discovery
// =============================================================================

// discoverFolders lists every mailbox and builds the logical folder map. The
// inbox always maps to INBOX even when the server omits it from LIST.
func (s *imapSession) discoverFolders() error {
	listCmd := s.client.List("", "*", nil)

	type listEntry struct {
		name  string
		attrs []imap.MailboxAttr
	}
	var entries []listEntry
	for {
		mbox := listCmd.Next()
		if mbox == nil {
			break
		}
		name, ok := parseListLine(mbox.Mailbox)
		if !ok {
			continue
		}
		if slices.Contains(mbox.Attrs, imap.MailboxAttrNoSelect) {
			continue
		}
		entries = append(entries, listEntry{name: name, attrs: mbox.Attrs})
	}
	if err := listCmd.Close(); err != nil {
		return apperr.Protocol("LIST failed", err)
	}

	s.folders = map[string]string{"inbox": "INBOX"}
	s.all = s.all[:0]

	// SPECIAL-USE attributes win over name matching.
	for _, e := range entries {
		s.all = append(s.all, e.name)
		for _, attr := range e.attrs {
			switch attr {
			case imap.MailboxAttrSent:
				s.folders["sent"] = e.name
			case imap.MailboxAttrTrash:
				s.folders["trash"] = e.name
			case imap.MailboxAttrDrafts:
				s.folders["drafts"] = e.name
			case imap.MailboxAttrArchive, imap.MailboxAttrAll:
				s.folders["archive"] = e.name
			}
		}
	}
	for logical, re := range folderPatterns {
		if _, ok := s.folders[logical]; ok {
			continue
		}
		for _, e := range entries {
			if re.MatchString(e.name) {
				s.folders[logical] = e.name
				break
			}
		}
	}

	s.log.Debug().
		Int("mailboxes", len(s.all)).
		Interface("folders", s.folders).
		Msg("discovered folders")
	return nil
}

// serverFolder resolves a logical name to the server mailbox, falling back to
// the name itself for ids that already carry a server name.
func (s *imapSession) serverFolder(logical string) (string, bool) {
	if name, ok := s.folders[strings.ToLower(logical)]; ok {
		return name, true
	}
	if slices.Contains(s.all, logical) {
		return logical, true
	}
	return "", false
}

// logicalFolder maps a server mailbox name back to its logical name, or
// "inbox" semantics fall through to the bare server name.
func (s *imapSession) logicalFolder(server string) string {
	for logical, name := range s.folders {
		if name == server {
			return logical
		}
	}
	return server
}

// =============================================================================
// Mailbox selection
// =============================================================================

// selectFolder issues SELECT unless the mailbox is already the current one.
// A failed SELECT clears the shadow so the next call retries.
func (s *imapSession) selectFolder(name string) error {
	if s.current == name && s.selected != nil {
		return nil
	}
	data, err := s.client.Select(name, nil).Wait()
	if err != nil {
		s.current = ""
		s.selected = nil
		return apperr.Protocol(fmt.Sprintf("SELECT %s failed", name), err)
	}
	s.current = name
	s.selected = data
	return nil
}

// keywordsSupported reports whether the selected mailbox accepts custom
// keyword flags: either PERMANENTFLAGS advertises the \* wildcard or the
// server carries the legacy KEYWORD capability atom.
func (s *imapSession) keywordsSupported() bool {
	if s.caps.Has(imap.Cap("KEYWORD")) {
		return true
	}
	if s.selected == nil {
		return false
	}
	return slices.Contains(s.selected.PermanentFlags, imap.FlagWildcard)
}

// =============================================================================
// Fetching
// =============================================================================

// envelopeData is one message summary from a FETCH round trip.
type envelopeData struct {
	UID            imap.UID
	Subject        string
	From           string
	To             []string
	Date           time.Time
	Flags          []imap.Flag
	HasAttachments bool
}

// fetchEnvelopes returns summaries of the newest messages in the mailbox.
// With a since cursor it asks the server for messages at or after that date;
// without one it takes the top of the mailbox by sequence.
func (s *imapSession) fetchEnvelopes(folder string, since *time.Time, max int) ([]*envelopeData, error) {
	if err := s.selectFolder(folder); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 50
	}

	fetchOpts := &imap.FetchOptions{
		UID:           true,
		Envelope:      true,
		Flags:         true,
		InternalDate:  true,
		BodyStructure: &imap.FetchItemBodyStructure{},
	}

	var numSet imap.NumSet
	if since != nil {
		data, err := s.client.UIDSearch(&imap.SearchCriteria{Since: *since}, nil).Wait()
		if err != nil {
			return nil, apperr.Protocol("UID SEARCH failed", err)
		}
		uids := data.AllUIDs()
		if len(uids) == 0 {
			return nil, nil
		}
		if len(uids) > max {
			uids = uids[len(uids)-max:]
		}
		var set imap.UIDSet
		for _, uid := range uids {
			set.AddNum(uid)
		}
		numSet = set
	} else {
		total := int(s.selected.NumMessages)
		if total == 0 {
			return nil, nil
		}
		first := total - max + 1
		if first < 1 {
			first = 1
		}
		var set imap.SeqSet
		set.AddRange(uint32(first), uint32(total))
		numSet = set
	}

	msgs, err := s.client.Fetch(numSet, fetchOpts).Collect()
	if err != nil {
		return nil, apperr.Protocol("FETCH failed", err)
	}

	out := make([]*envelopeData, 0, len(msgs))
	for _, msg := range msgs {
		env := &envelopeData{
			UID:   msg.UID,
			Flags: msg.Flags,
			Date:  msg.InternalDate,
		}
		if e := msg.Envelope; e != nil {
			env.Subject = e.Subject
			if !e.Date.IsZero() {
				env.Date = e.Date
			}
			if len(e.From) > 0 {
				env.From = formatAddress(e.From[0])
			}
			for _, addr := range e.To {
				env.To = append(env.To, formatAddress(addr))
			}
		}
		if msg.BodyStructure != nil {
			msg.BodyStructure.Walk(func(path []int, part imap.BodyStructure) bool {
				if disp := part.Disposition(); disp != nil && strings.EqualFold(disp.Value, "attachment") {
					env.HasAttachments = true
				}
				return !env.HasAttachments
			})
		}
		out = append(out, env)
	}
	slices.SortFunc(out, func(a, b *envelopeData) int { return cmp.Compare(a.UID, b.UID) })
	return out, nil
}

func formatAddress(a imap.Address) string {
	addr := a.Addr()
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, addr)
	}
	return addr
}

// fetchBodyRaw streams one message's full RFC 5322 literal, bounded by
// maxBodyBytes.
func (s *imapSession) fetchBodyRaw(folder string, uid imap.UID) ([]byte, error) {
	if err := s.selectFolder(folder); err != nil {
		return nil, err
	}

	uidSet := imap.UIDSetNum(uid)
	fetchCmd := s.client.Fetch(uidSet, &imap.FetchOptions{
		UID: true,
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierNone, Peek: true},
		},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, apperr.NotFound("message")
	}
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		if bs, ok := item.(imapclient.FetchItemDataBodySection); ok && bs.Literal != nil {
			data, err := io.ReadAll(io.LimitReader(bs.Literal, maxBodyBytes))
			if err != nil {
				return nil, apperr.Connection(s.cfg.addr(), err)
			}
			return data, nil
		}
	}
	return nil, apperr.Protocol("no body section in FETCH response", nil)
}

// =============================================================================
// Mutations
// =============================================================================

// storeFlags adds or removes flags on one message, silently.
func (s *imapSession) storeFlags(folder string, uid imap.UID, op imap.StoreFlagsOp, flags ...imap.Flag) error {
	if err := s.selectFolder(folder); err != nil {
		return err
	}
	uidSet := imap.UIDSetNum(uid)
	cmd := s.client.Store(uidSet, &imap.StoreFlags{Op: op, Flags: flags, Silent: true}, nil)
	if err := cmd.Close(); err != nil {
		return apperr.Protocol("STORE failed", err)
	}
	return nil
}

// copyTo copies one message into another mailbox.
func (s *imapSession) copyTo(folder string, uid imap.UID, dest string) error {
	if err := s.selectFolder(folder); err != nil {
		return err
	}
	uidSet := imap.UIDSetNum(uid)
	if _, err := s.client.Copy(uidSet, dest).Wait(); err != nil {
		return apperr.Protocol(fmt.Sprintf("COPY to %s failed", dest), err)
	}
	return nil
}

// expunge removes \Deleted messages. With UIDPLUS only the given uid goes;
// otherwise the whole mailbox expunges, which can sweep up other flagged
// messages.
func (s *imapSession) expunge(uid imap.UID) error {
	if s.caps.Has(imap.CapUIDPlus) {
		uidSet := imap.UIDSetNum(uid)
		if err := s.client.UIDExpunge(uidSet).Close(); err != nil {
			return apperr.Protocol("UID EXPUNGE failed", err)
		}
		return nil
	}
	if err := s.client.Expunge().Close(); err != nil {
		return apperr.Protocol("EXPUNGE failed", err)
	}
	return nil
}

// appendMessage uploads a raw message into the mailbox and returns its UID
// when the server reports one.
func (s *imapSession) appendMessage(folder string, raw []byte, flags []imap.Flag, t time.Time) (imap.UID, error) {
	cmd := s.client.Append(folder, int64(len(raw)), &imap.AppendOptions{Flags: flags, Time: t})
	if _, err := cmd.Write(raw); err != nil {
		cmd.Close()
		return 0, apperr.Connection(s.cfg.addr(), err)
	}
	if err := cmd.Close(); err != nil {
		return 0, apperr.Connection(s.cfg.addr(), err)
	}
	data, err := cmd.Wait()
	if err != nil {
		return 0, apperr.Protocol(fmt.Sprintf("APPEND to %s failed", folder), err)
	}
	return data.UID, nil
}
