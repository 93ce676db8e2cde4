package domain

import "time"

// Draft is a locally composed message. Thread linkage and reply-to tie a
// draft back to the conversation it answers.
type Draft struct {
	ID        string   `json:"id"`
	AccountID string   `json:"account_id"`
	To        []string `json:"to"`
	Cc        []string `json:"cc,omitempty"`
	Bcc       []string `json:"bcc,omitempty"`
	Subject   string   `json:"subject"`
	BodyText  string   `json:"body_text,omitempty"`
	BodyHTML  string   `json:"body_html,omitempty"`
	ThreadID  string   `json:"thread_id,omitempty"`
	ReplyToID string   `json:"reply_to_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment belongs to either a draft or a message, never both. Deleting a
// draft cascades to its attachments.
type Attachment struct {
	ID        string `json:"id"`
	DraftID   string `json:"draft_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
	Data      []byte `json:"data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
