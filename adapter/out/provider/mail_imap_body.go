package provider

import (
	"bytes"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/encoding/charmap"
)

var htmlPolicy = bluemonday.UGCPolicy()

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</\s*(script|style)\s*>`)
	lineBreakRe   = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|tr|li|h[1-6])>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]+>`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
	spaceRunRe    = regexp.MustCompile(`[ \t]{2,}`)
)

// mimeAttachment is one attachment part lifted out of a raw RFC 822 message.
type mimeAttachment struct {
	Index    int
	Filename string
	MimeType string
	Data     []byte
}

// extractBodyParts pulls the first text/plain and text/html parts out of a raw
// message. HTML is sanitized; when only HTML exists the plain text is derived
// from it. Undecodable input degrades to a crude header/body split rather than
// an error so a hostile message never blocks a sync.
func extractBodyParts(raw []byte) (text, html string) {
	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return fallbackBody(raw), ""
	}
	collectParts(ent, &text, &html)
	if html != "" {
		html = htmlPolicy.Sanitize(html)
	}
	if text == "" && html != "" {
		text = htmlToText(html)
	}
	return text, html
}

func collectParts(ent *message.Entity, text, html *string) {
	if ent == nil {
		return
	}
	if mr := ent.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return
			}
			if err != nil && !message.IsUnknownCharset(err) {
				return
			}
			if part == nil {
				return
			}
			collectParts(part, text, html)
		}
	}

	disp, _, _ := ent.Header.ContentDisposition()
	if strings.EqualFold(disp, "attachment") {
		return
	}
	mediaType, _, _ := ent.Header.ContentType()
	switch {
	case strings.EqualFold(mediaType, "text/plain") && *text == "":
		if b, err := io.ReadAll(io.LimitReader(ent.Body, maxBodyBytes)); err == nil {
			*text = decodeText(b)
		}
	case strings.EqualFold(mediaType, "text/html") && *html == "":
		if b, err := io.ReadAll(io.LimitReader(ent.Body, maxBodyBytes)); err == nil {
			*html = decodeText(b)
		}
	}
}

// extractAttachments returns the attachment parts of a raw message in document
// order. A part counts as an attachment when its disposition says so or when
// it carries a filename.
func extractAttachments(raw []byte) []mimeAttachment {
	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil
	}
	var out []mimeAttachment
	walkAttachments(ent, &out)
	return out
}

func walkAttachments(ent *message.Entity, out *[]mimeAttachment) {
	if ent == nil {
		return
	}
	if mr := ent.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return
			}
			if err != nil && !message.IsUnknownCharset(err) {
				return
			}
			if part == nil {
				return
			}
			walkAttachments(part, out)
		}
	}

	disp, dispParams, _ := ent.Header.ContentDisposition()
	mediaType, typeParams, _ := ent.Header.ContentType()
	filename := dispParams["filename"]
	if filename == "" {
		filename = typeParams["name"]
	}
	if !strings.EqualFold(disp, "attachment") && filename == "" {
		return
	}
	data, err := io.ReadAll(io.LimitReader(ent.Body, maxBodyBytes))
	if err != nil {
		return
	}
	if filename == "" {
		filename = "attachment-" + strconv.Itoa(len(*out)+1)
	}
	*out = append(*out, mimeAttachment{
		Index:    len(*out) + 1,
		Filename: filename,
		MimeType: mediaType,
		Data:     data,
	})
}

// decodeText turns possibly-legacy bytes into valid UTF-8. Valid UTF-8 passes
// through. Bytes in the C1 range read as Windows-1252, where that range holds
// the smart quotes and dashes legacy mailers actually emit; anything else
// reads as Latin-1. Both single-byte decodes are total, so the final
// ToValidUTF8 only fires on decoder misuse.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	cm := charmap.ISO8859_1
	for _, c := range b {
		if c >= 0x80 && c <= 0x9F {
			cm = charmap.Windows1252
			break
		}
	}
	decoded, err := cm.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(decoded)
}

// htmlToText strips markup for messages that ship no plain-text alternative.
func htmlToText(s string) string {
	s = scriptStyleRe.ReplaceAllString(s, "")
	s = lineBreakRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func fallbackBody(raw []byte) string {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return decodeText(raw[idx+4:])
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return decodeText(raw[idx+2:])
	}
	return decodeText(raw)
}

// sanitizeHTML is the shared policy entry point for provider-sourced HTML.
func sanitizeHTML(s string) string {
	if s == "" {
		return ""
	}
	return htmlPolicy.Sanitize(s)
}
