package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Logical folder names used locally. Distinct from the actual provider
// folder name, which lives in Message.ProviderFolder.
const (
	FolderInbox   = "inbox"
	FolderSent    = "sent"
	FolderTrash   = "trash"
	FolderDrafts  = "drafts"
	FolderArchive = "archive"
)

// Message is the canonical local copy of one provider message. The row is
// the authority on local state; provider state is reconciled into it only
// for new rows.
//
// The id is provider-derived and stable for the lifetime of the message on
// that provider: the API provider uses its own message id, the IMAP provider
// uses "account_id:folder:uid".
type Message struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	ThreadID  string `json:"thread_id,omitempty"`

	Subject string    `json:"subject"`
	From    string    `json:"from"`
	To      []string  `json:"to,omitempty"`
	Date    time.Time `json:"date"`
	Snippet string    `json:"snippet"`

	IsUnread bool     `json:"is_unread"`
	Labels   []string `json:"labels,omitempty"`

	Folder         string `json:"folder"`
	OriginalFolder string `json:"original_folder,omitempty"`
	ProviderFolder string `json:"provider_folder,omitempty"`

	BodyText string `json:"body_text,omitempty"`
	BodyHTML string `json:"body_html,omitempty"`
	HasBody  bool   `json:"has_body"`

	HasAttachments bool `json:"has_attachments"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IMAPMessageID builds the stable three-part id of an IMAP message.
func IMAPMessageID(accountID, folder string, uid uint32) string {
	return fmt.Sprintf("%s:%s:%d", accountID, folder, uid)
}

// ParseIMAPMessageID splits an IMAP message id into its folder and uid. The
// folder name may itself contain colons, so the uid is taken from the last
// segment. Two-part legacy ids ("account:uid") are still accepted and map to
// INBOX.
func ParseIMAPMessageID(id string) (accountID, folder string, uid uint32, err error) {
	idx := strings.LastIndex(id, ":")
	if idx < 0 {
		return "", "", 0, fmt.Errorf("malformed message id %q", id)
	}
	n, err := strconv.ParseUint(id[idx+1:], 10, 32)
	if err != nil {
		return "", "", 0, fmt.Errorf("malformed message uid in %q", id)
	}
	rest := id[:idx]
	if sep := strings.Index(rest, ":"); sep >= 0 {
		return rest[:sep], rest[sep+1:], uint32(n), nil
	}
	// Legacy two-part form predating per-folder ids.
	return rest, "INBOX", uint32(n), nil
}

// SenderAddress extracts the bare address from a From header value that may
// be in "Display Name <addr@host>" form.
func (m *Message) SenderAddress() string {
	from := strings.TrimSpace(m.From)
	if start := strings.LastIndex(from, "<"); start >= 0 {
		if end := strings.Index(from[start:], ">"); end > 0 {
			return strings.ToLower(from[start+1 : start+end])
		}
	}
	return strings.ToLower(from)
}

// SenderDomain returns the domain part of the sender address, or "" when the
// address carries none.
func (m *Message) SenderDomain() string {
	addr := m.SenderAddress()
	if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
		return addr[at+1:]
	}
	return ""
}

// MessageFilter narrows query_messages. Tag filtering is OR across tags;
// entries matching a configured account email act as account filters instead
// of taxonomy tags.
type MessageFilter struct {
	AccountID string
	Tags      []string
	Unread    *bool
	Folder    string
	ThreadID  string
	Text      string
	Limit     int
	Offset    int
}
