package provider

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

// =============================================================================
// LIST parsing and folder mapping
// =============================================================================

func TestParseListLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
		ok   bool
	}{
		{"full untagged line", `* LIST (\HasNoChildren) "." "INBOX"`, "INBOX", true},
		{"quoted name with spaces", `* LIST (\HasNoChildren \Trash) "." "Deleted Items"`, "Deleted Items", true},
		{"unquoted name after delimiter", `(\HasNoChildren) "." INBOX.Sent`, "INBOX.Sent", true},
		{"nil delimiter", `(\HasNoChildren) NIL Notes`, "Notes", true},
		{"bare name", "INBOX", "INBOX", true},
		{"bare quoted name", `"INBOX.Drafts"`, "INBOX.Drafts", true},
		{"gmail namespace", `* LIST (\Noselect) "/" "[Gmail]"`, "[Gmail]", true},
		{"name with parentheses", "Projects (2024)", "Projects (2024)", true},
		{"empty", "", "", false},
		{"whitespace only", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseListLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("parseListLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("parseListLine(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestFolderPatterns(t *testing.T) {
	tests := []struct {
		logical string
		mailbox string
		match   bool
	}{
		{"sent", "Sent", true},
		{"sent", "INBOX.Sent", true},
		{"sent", "[Gmail]/Sent Mail", true},
		{"sent", "Sent Items", true},
		{"sent", "Absent", false},
		{"sent", "Sentinel", false},
		{"trash", "Trash", true},
		{"trash", "INBOX.Trash", true},
		{"trash", "Deleted Items", true},
		{"trash", "Deleted Messages", true},
		{"trash", "Bin", true},
		{"trash", "Trashcan", false},
		{"drafts", "Drafts", true},
		{"drafts", "INBOX.Draft", true},
		{"archive", "Archive", true},
		{"archive", "[Gmail]/All Mail", true},
		{"archive", "Mailing", false},
	}
	for _, tt := range tests {
		t.Run(tt.logical+"/"+tt.mailbox, func(t *testing.T) {
			re, ok := folderPatterns[tt.logical]
			if !ok {
				t.Fatalf("no pattern for %q", tt.logical)
			}
			if got := re.MatchString(tt.mailbox); got != tt.match {
				t.Errorf("%s pattern on %q = %v, want %v", tt.logical, tt.mailbox, got, tt.match)
			}
		})
	}
}

func TestKeywordLabelRoundTrip(t *testing.T) {
	tests := []struct {
		label   string
		keyword string
	}{
		{"Newsletters", "$Newsletters"},
		{"Action Required", "$Action_Required"},
		{"AI/ToDo", "$AI/ToDo"},
	}
	for _, tt := range tests {
		if got := keywordForLabel(tt.label); got != tt.keyword {
			t.Errorf("keywordForLabel(%q) = %q, want %q", tt.label, got, tt.keyword)
		}
		if got := labelForKeyword(tt.keyword); got != tt.label {
			t.Errorf("labelForKeyword(%q) = %q, want %q", tt.keyword, got, tt.label)
		}
	}
}

func TestKeywordFlagsSkipsSystemNames(t *testing.T) {
	flags := keywordFlags([]string{"INBOX", "Newsletters", "", "unread", "Finance"})
	want := []imap.Flag{"$Newsletters", "$Finance"}
	if len(flags) != len(want) {
		t.Fatalf("got %v, want %v", flags, want)
	}
	for i := range want {
		if flags[i] != want[i] {
			t.Errorf("flags[%d] = %q, want %q", i, flags[i], want[i])
		}
	}
}

func TestSplitFetchBudget(t *testing.T) {
	tests := []struct {
		total, n int
		want     []int
	}{
		{50, 3, []int{17, 17, 16}},
		{50, 1, []int{50}},
		{5, 3, []int{2, 2, 1}},
		{0, 2, []int{25, 25}},
		{10, 0, nil},
	}
	for _, tt := range tests {
		got := splitFetchBudget(tt.total, tt.n)
		if len(got) != len(tt.want) {
			t.Fatalf("splitFetchBudget(%d, %d) = %v, want %v", tt.total, tt.n, got, tt.want)
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("splitFetchBudget(%d, %d)[%d] = %d, want %d", tt.total, tt.n, i, got[i], tt.want[i])
			}
		}
	}
}

// =============================================================================
// Text decoding and HTML stripping
// =============================================================================

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"valid utf8 passes through", []byte("héllo wörld"), "héllo wörld"},
		{"c1 bytes decode as windows-1252", []byte{0x93, 'q', 0x94}, "“q”"},
		{"high bytes decode as latin-1", []byte{'c', 'a', 'f', 0xE9}, "café"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeText(tt.in); got != tt.want {
				t.Errorf("decodeText(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tags stripped", "<p>Hello<br>World</p>", "Hello\nWorld"},
		{"script dropped", "<p>Keep</p><script>alert(1)</script>", "Keep"},
		{"style dropped", "<style>p{color:red}</style><div>Text</div>", "Text"},
		{"entities unescaped", "a &amp; b &lt;c&gt;", "a & b <c>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := htmlToText(tt.in); got != tt.want {
				t.Errorf("htmlToText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractBodyParts(t *testing.T) {
	raw := []byte("MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=frontier\r\n" +
		"\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain body\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html <b>body</b></p><script>alert(1)</script>\r\n" +
		"--frontier--\r\n")

	text, html := extractBodyParts(raw)
	if text != "plain body" {
		t.Errorf("text = %q, want %q", text, "plain body")
	}
	if !strings.Contains(html, "<b>body</b>") {
		t.Errorf("html %q lost its markup", html)
	}
	if strings.Contains(html, "script") {
		t.Errorf("html %q kept the script tag", html)
	}
}

func TestExtractBodyPartsHTMLOnly(t *testing.T) {
	raw := []byte("MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>Hello</p>\r\n")

	text, html := extractBodyParts(raw)
	if html == "" {
		t.Fatal("expected html body")
	}
	if !strings.Contains(text, "Hello") {
		t.Errorf("derived text = %q, want it to contain %q", text, "Hello")
	}
}

func TestExtractAttachments(t *testing.T) {
	raw := []byte("MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=frontier\r\n" +
		"\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"see attached\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/csv\r\n" +
		"Content-Disposition: attachment; filename=\"report.csv\"\r\n" +
		"\r\n" +
		"a,b\r\n1,2\r\n" +
		"--frontier--\r\n")

	attachments := extractAttachments(raw)
	if len(attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(attachments))
	}
	att := attachments[0]
	if att.Index != 1 {
		t.Errorf("index = %d, want 1", att.Index)
	}
	if att.Filename != "report.csv" {
		t.Errorf("filename = %q, want %q", att.Filename, "report.csv")
	}
	if att.MimeType != "text/csv" {
		t.Errorf("mime type = %q, want %q", att.MimeType, "text/csv")
	}
	if !strings.HasPrefix(string(att.Data), "a,b") {
		t.Errorf("data = %q", att.Data)
	}
}

func TestEnvelopeRecipients(t *testing.T) {
	raw := []byte("From: me@example.com\r\n" +
		"To: Alice <alice@example.com>\r\n" +
		"Cc: bob@example.org\r\n" +
		"Subject: hello\r\n" +
		"\r\n" +
		"body\r\n")

	recipients, err := envelopeRecipients(raw)
	if err != nil {
		t.Fatalf("envelopeRecipients: %v", err)
	}
	want := []string{"alice@example.com", "bob@example.org"}
	if len(recipients) != len(want) {
		t.Fatalf("got %v, want %v", recipients, want)
	}
	for i := range want {
		if recipients[i] != want[i] {
			t.Errorf("recipients[%d] = %q, want %q", i, recipients[i], want[i])
		}
	}
}

func TestEnvelopeRecipientsNone(t *testing.T) {
	raw := []byte("From: me@example.com\r\nSubject: hello\r\n\r\nbody\r\n")
	if _, err := envelopeRecipients(raw); err == nil {
		t.Fatal("expected error for message without recipients")
	}
}

// =============================================================================
// IMAP provider conversion
// =============================================================================

func TestIMAPConfigFromAccount(t *testing.T) {
	account := &domain.Account{
		ID:    "personal",
		Email: "me@example.net",
		Settings: map[string]any{
			"imap_host": "mail.example.net",
		},
	}
	cfg, err := imapConfigFromAccount(account)
	if err != nil {
		t.Fatalf("imapConfigFromAccount: %v", err)
	}
	if cfg.Port != 993 || cfg.Security != securityTLS || cfg.Username != "me@example.net" {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	if _, err := imapConfigFromAccount(&domain.Account{ID: "bad"}); !apperr.IsKind(err, apperr.KindConfiguration) {
		t.Errorf("missing host should be a configuration error, got %v", err)
	}
}

func TestToDomainMessage(t *testing.T) {
	p := &IMAPProvider{account: &domain.Account{ID: "acct"}}
	date := time.Date(2025, 6, 1, 12, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	env := &envelopeData{
		UID:            7,
		Subject:        "Quarterly report",
		From:           "Alice <alice@example.com>",
		To:             []string{"me@example.net"},
		Date:           date,
		Flags:          []imap.Flag{imap.FlagSeen, "$Work_Stuff", imap.FlagAnswered},
		HasAttachments: true,
	}

	msg := p.toDomainMessage("inbox", "INBOX", env)
	if msg.ID != "acct:INBOX:7" {
		t.Errorf("id = %q", msg.ID)
	}
	if msg.IsUnread {
		t.Error("seen message reported unread")
	}
	if msg.Folder != "inbox" || msg.ProviderFolder != "INBOX" {
		t.Errorf("folders = (%q, %q)", msg.Folder, msg.ProviderFolder)
	}
	if len(msg.Labels) != 1 || msg.Labels[0] != "Work Stuff" {
		t.Errorf("labels = %v", msg.Labels)
	}
	if msg.Date.Location() != time.UTC {
		t.Errorf("date not normalized to UTC: %v", msg.Date)
	}
	if !msg.HasAttachments {
		t.Error("attachment flag lost")
	}
}

// =============================================================================
// Gmail conversion
// =============================================================================

func TestGmailFolder(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"inbox", []string{"INBOX", "UNREAD"}, domain.FolderInbox},
		{"trash wins over inbox", []string{"INBOX", "TRASH"}, domain.FolderTrash},
		{"draft wins over sent", []string{"DRAFT", "SENT"}, domain.FolderDrafts},
		{"inbox wins over sent", []string{"SENT", "INBOX"}, domain.FolderInbox},
		{"sent", []string{"SENT"}, domain.FolderSent},
		{"no folder labels is archive", []string{"STARRED", "IMPORTANT"}, domain.FolderArchive},
		{"empty is archive", nil, domain.FolderArchive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gmailFolder(tt.labels); got != tt.want {
				t.Errorf("gmailFolder(%v) = %q, want %q", tt.labels, got, tt.want)
			}
		})
	}
}

func TestSplitAddressList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Alice <alice@example.com>, bob@example.org", []string{"Alice <alice@example.com>", "bob@example.org"}},
		{"plain@example.com", []string{"plain@example.com"}},
		{"not an address list", []string{"not an address list"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := splitAddressList(tt.in)
		if len(got) != len(tt.want) {
			t.Fatalf("splitAddressList(%q) = %v, want %v", tt.in, got, tt.want)
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("splitAddressList(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

// =============================================================================
// SASL
// =============================================================================

func TestXoauth2ClientInitialResponse(t *testing.T) {
	client := newXoauth2Client("user@example.com", "tok123")
	mech, ir, err := client.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if mech != "XOAUTH2" {
		t.Errorf("mech = %q", mech)
	}
	want := "user=user@example.com\x01auth=Bearer tok123\x01\x01"
	if string(ir) != want {
		t.Errorf("initial response = %q, want %q", ir, want)
	}

	resp, err := client.Next([]byte(`{"status":"400"}`))
	if err != nil || len(resp) != 0 {
		t.Errorf("Next = (%q, %v), want empty response", resp, err)
	}
}

// =============================================================================
// Connection pool
// =============================================================================

func TestPoolReusesLiveSession(t *testing.T) {
	pool := NewPool(time.Minute, zerolog.Nop())
	pool.probe = func(*imapSession) error { return nil }

	dials := 0
	dial := func(context.Context) (*imapSession, error) {
		dials++
		return &imapSession{}, nil
	}

	for i := 0; i < 3; i++ {
		err := pool.With(context.Background(), "acct", dial, func(*imapSession) error { return nil })
		if err != nil {
			t.Fatalf("With: %v", err)
		}
	}
	if dials != 1 {
		t.Errorf("dialed %d times, want 1", dials)
	}
}

func TestPoolRedialsWhenProbeFails(t *testing.T) {
	pool := NewPool(time.Minute, zerolog.Nop())
	pool.probe = func(*imapSession) error {
		return apperr.Connection("imap", nil)
	}

	dials := 0
	dial := func(context.Context) (*imapSession, error) {
		dials++
		return &imapSession{}, nil
	}

	for i := 0; i < 3; i++ {
		if err := pool.With(context.Background(), "acct", dial, func(*imapSession) error { return nil }); err != nil {
			t.Fatalf("With: %v", err)
		}
	}
	if dials != 3 {
		t.Errorf("dialed %d times, want 3", dials)
	}
}

func TestPoolEvictsOnTransportError(t *testing.T) {
	pool := NewPool(time.Minute, zerolog.Nop())
	pool.probe = func(*imapSession) error { return nil }

	dials := 0
	dial := func(context.Context) (*imapSession, error) {
		dials++
		return &imapSession{}, nil
	}

	err := pool.With(context.Background(), "acct", dial, func(*imapSession) error {
		return apperr.Connection("imap", nil)
	})
	if !apperr.IsKind(err, apperr.KindTransport) {
		t.Fatalf("expected transport error back, got %v", err)
	}

	if err := pool.With(context.Background(), "acct", dial, func(*imapSession) error { return nil }); err != nil {
		t.Fatalf("With: %v", err)
	}
	if dials != 2 {
		t.Errorf("dialed %d times, want 2 after eviction", dials)
	}
}

func TestPoolKeepsSessionOnDomainError(t *testing.T) {
	pool := NewPool(time.Minute, zerolog.Nop())
	pool.probe = func(*imapSession) error { return nil }

	dials := 0
	dial := func(context.Context) (*imapSession, error) {
		dials++
		return &imapSession{}, nil
	}

	_ = pool.With(context.Background(), "acct", dial, func(*imapSession) error {
		return apperr.NotFound("message")
	})
	_ = pool.With(context.Background(), "acct", dial, func(*imapSession) error { return nil })
	if dials != 1 {
		t.Errorf("dialed %d times, want 1: non-transport errors must not evict", dials)
	}
}

func TestPoolCleanupIdle(t *testing.T) {
	pool := NewPool(10*time.Millisecond, zerolog.Nop())
	pool.probe = func(*imapSession) error { return nil }

	dial := func(context.Context) (*imapSession, error) { return &imapSession{}, nil }
	if err := pool.With(context.Background(), "acct", dial, func(*imapSession) error { return nil }); err != nil {
		t.Fatalf("With: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if closed := pool.CleanupIdle(); closed != 1 {
		t.Errorf("CleanupIdle closed %d sessions, want 1", closed)
	}
	if closed := pool.CleanupIdle(); closed != 0 {
		t.Errorf("second CleanupIdle closed %d sessions, want 0", closed)
	}
}

func TestPoolCloseAccount(t *testing.T) {
	pool := NewPool(time.Minute, zerolog.Nop())
	pool.probe = func(*imapSession) error { return nil }

	dials := 0
	dial := func(context.Context) (*imapSession, error) {
		dials++
		return &imapSession{}, nil
	}

	_ = pool.With(context.Background(), "acct", dial, func(*imapSession) error { return nil })
	pool.CloseAccount("acct")
	_ = pool.With(context.Background(), "acct", dial, func(*imapSession) error { return nil })
	if dials != 2 {
		t.Errorf("dialed %d times, want 2 after CloseAccount", dials)
	}
}

// =============================================================================
// SMTP
// =============================================================================

func TestSendSMTPRejectsEmptyRecipients(t *testing.T) {
	err := sendSMTP(context.Background(), smtpConfig{Host: "smtp.example.com", Port: 587}, "me@example.com", nil, []byte("raw"))
	if err == nil {
		t.Fatal("expected error for empty recipient list")
	}
	if !apperr.IsCode(err, apperr.CodeInvalidInput) {
		t.Errorf("got %v, want invalid input", err)
	}
}
