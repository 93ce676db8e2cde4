package provider

import (
	"regexp"
	"strings"
)

// folderPatterns matches the trailing path segment of common mailbox layouts:
// "Sent", "INBOX.Sent", "[Gmail]/Sent Mail", "Deleted Items", "INBOX.Trash".
// SPECIAL-USE attributes take precedence; these only fill the gaps.
var folderPatterns = map[string]*regexp.Regexp{
	"sent":    regexp.MustCompile(`(?i)(^|[./])sent( ?(mail|items|messages))?$`),
	"trash":   regexp.MustCompile(`(?i)(^|[./])(trash|deleted( (items|messages))?|bin)$`),
	"drafts":  regexp.MustCompile(`(?i)(^|[./])drafts?$`),
	"archive": regexp.MustCompile(`(?i)(^|[./])(archive|archives|all mail)$`),
}

// listLineRe captures the name after a `(\Attrs) "<delim>"` prefix.
var listLineRe = regexp.MustCompile(`\)\s+(?:"(?:[^"\\]|\\.)*"|NIL)\s+(.+)$`)

// parseListLine extracts a mailbox name from one LIST response entry. It
// accepts a full untagged line, the attribute/delimiter remainder, or a bare
// possibly-quoted name as the structured client hands them over. The
// quoted-last-token reading runs first because it is the only one that
// survives names with spaces, then the delimiter form, then plain whitespace
// fields.
func parseListLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}

	if strings.HasSuffix(line, `"`) {
		body := line[:len(line)-1]
		if idx := strings.LastIndex(body, `"`); idx >= 0 {
			if name := body[idx+1:]; name != "" {
				return name, true
			}
		}
	}

	if strings.Contains(line, ")") {
		if m := listLineRe.FindStringSubmatch(line); m != nil {
			if name := strings.Trim(strings.TrimSpace(m[1]), `"`); name != "" {
				return name, true
			}
		}
	}

	if strings.HasPrefix(line, "*") || strings.HasPrefix(line, "(") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return "", false
		}
		name := strings.Trim(fields[len(fields)-1], `"`)
		return name, name != ""
	}

	return strings.Trim(line, `"`), true
}

// keywordForLabel encodes a label name as an IMAP keyword flag. Keywords are
// atoms, so spaces become underscores.
func keywordForLabel(label string) string {
	return "$" + strings.ReplaceAll(strings.TrimSpace(label), " ", "_")
}

// labelForKeyword is the inverse mapping for keyword flags seen on fetched
// messages.
func labelForKeyword(flag string) string {
	return strings.ReplaceAll(strings.TrimPrefix(flag, "$"), "_", " ")
}

// systemLabels are API-side label names that have no keyword equivalent on an
// IMAP server. Updates naming them are skipped there.
var systemLabels = map[string]bool{
	"INBOX":  true,
	"UNREAD": true,
	"SENT":   true,
	"TRASH":  true,
	"SPAM":   true,
	"DRAFT":  true,
}

// splitFetchBudget divides a fetch budget across n folders, handing the
// remainder to the first ones.
func splitFetchBudget(total, n int) []int {
	if n <= 0 {
		return nil
	}
	if total <= 0 {
		total = 50
	}
	out := make([]int, n)
	for i := range out {
		out[i] = total / n
		if i < total%n {
			out[i]++
		}
	}
	return out
}
