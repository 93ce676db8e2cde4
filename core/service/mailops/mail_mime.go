package mailops

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"strings"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"

	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
)

const base64LineLength = 76

// buildDraftMIME composes a draft into an RFC 5322 message. Text-only and
// HTML-only drafts become a single part, both flavors a multipart/alternative
// pair, and attachments wrap everything in multipart/mixed.
func buildDraftMIME(account *domain.Account, draft *domain.Draft, attachments []*domain.Attachment) ([]byte, error) {
	var buf bytes.Buffer

	root := textproto.Header{}
	root.Add("Date", time.Now().Format("Mon, 2 Jan 2006 15:04:05 -0700"))
	root.Add("Message-Id", newMessageID(account.Email))
	root.Add("MIME-Version", "1.0")
	root.Add("Subject", encodeHeaderWord(draft.Subject))
	if len(draft.Bcc) > 0 {
		root.Add("Bcc", strings.Join(draft.Bcc, ", "))
	}
	if len(draft.Cc) > 0 {
		root.Add("Cc", strings.Join(draft.Cc, ", "))
	}
	root.Add("To", strings.Join(draft.To, ", "))
	root.Add("From", formatAddress(account.Name, account.Email))

	if len(attachments) == 0 {
		if err := writeBare(&buf, root, draft); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mixed := textproto.NewMultipartWriter(&buf)
	root.Add("Content-Type", "multipart/mixed; boundary="+mixed.Boundary())
	if err := textproto.WriteHeader(&buf, root); err != nil {
		return nil, err
	}
	if err := writeBodyPart(mixed, draft); err != nil {
		return nil, err
	}
	for _, att := range attachments {
		if err := writeAttachmentPart(mixed, att); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBare writes a draft with no attachments: either one text part or a
// top-level multipart/alternative.
func writeBare(buf *bytes.Buffer, root textproto.Header, draft *domain.Draft) error {
	if draft.BodyText != "" && draft.BodyHTML != "" {
		alt := textproto.NewMultipartWriter(buf)
		root.Add("Content-Type", "multipart/alternative; boundary="+alt.Boundary())
		if err := textproto.WriteHeader(buf, root); err != nil {
			return err
		}
		if err := writeTextPart(alt, "text/plain", draft.BodyText); err != nil {
			return err
		}
		if err := writeTextPart(alt, "text/html", draft.BodyHTML); err != nil {
			return err
		}
		return alt.Close()
	}

	contentType := "text/plain"
	body := draft.BodyText
	if draft.BodyHTML != "" {
		contentType = "text/html"
		body = draft.BodyHTML
	}
	root.Add("Content-Transfer-Encoding", "quoted-printable")
	root.Add("Content-Type", contentType+`; charset="utf-8"`)
	if err := textproto.WriteHeader(buf, root); err != nil {
		return err
	}
	return writeQuotedPrintable(buf, body)
}

// writeBodyPart writes the draft body inside a multipart/mixed message.
func writeBodyPart(w *textproto.MultipartWriter, draft *domain.Draft) error {
	if draft.BodyText != "" && draft.BodyHTML != "" {
		// Assemble the alternative pair first; its boundary has to land in
		// the part header.
		var body bytes.Buffer
		alt := textproto.NewMultipartWriter(&body)
		if err := writeTextPart(alt, "text/plain", draft.BodyText); err != nil {
			return err
		}
		if err := writeTextPart(alt, "text/html", draft.BodyHTML); err != nil {
			return err
		}
		if err := alt.Close(); err != nil {
			return err
		}

		h := textproto.Header{}
		h.Add("Content-Type", "multipart/alternative; boundary="+alt.Boundary())
		part, err := w.CreatePart(h)
		if err != nil {
			return err
		}
		_, err = part.Write(body.Bytes())
		return err
	}
	if draft.BodyHTML != "" {
		return writeTextPart(w, "text/html", draft.BodyHTML)
	}
	return writeTextPart(w, "text/plain", draft.BodyText)
}

func writeTextPart(w *textproto.MultipartWriter, contentType, body string) error {
	h := textproto.Header{}
	h.Add("Content-Transfer-Encoding", "quoted-printable")
	h.Add("Content-Type", contentType+`; charset="utf-8"`)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	return writeQuotedPrintable(part, body)
}

func writeAttachmentPart(w *textproto.MultipartWriter, att *domain.Attachment) error {
	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h := textproto.Header{}
	h.Add("Content-Transfer-Encoding", "base64")
	h.Add("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
	h.Add("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(att.Data)
	for len(encoded) > 0 {
		n := base64LineLength
		if n > len(encoded) {
			n = len(encoded)
		}
		if _, err := io.WriteString(part, encoded[:n]); err != nil {
			return err
		}
		if _, err := io.WriteString(part, "\r\n"); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}

func writeQuotedPrintable(w io.Writer, body string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := io.WriteString(qp, body); err != nil {
		return err
	}
	return qp.Close()
}

// encodeHeaderWord RFC 2047-encodes a header value when it needs it; plain
// ASCII passes through unchanged.
func encodeHeaderWord(s string) string {
	return mime.QEncoding.Encode("utf-8", s)
}

func formatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", encodeHeaderWord(name), email)
}

func newMessageID(email string) string {
	domainPart := "localhost"
	if _, after, ok := strings.Cut(email, "@"); ok && after != "" {
		domainPart = after
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domainPart)
}
