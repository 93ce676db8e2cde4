package domain

import (
	"regexp"
	"strings"
	"time"
)

// Feedback is one user correction, kept append-only and replayed as a
// few-shot example in later classification prompts.
type Feedback struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	MessageID      string    `json:"message_id"`
	SenderDomain   string    `json:"sender_domain"`
	SubjectPattern string    `json:"subject_pattern"`
	OriginalTags   []string  `json:"original_tags"`
	CorrectedTags  []string  `json:"corrected_tags"`
	Context        string    `json:"context,omitempty"`
	CorrectedAt    time.Time `json:"corrected_at"`
	UseCount       int       `json:"use_count"`
}

var (
	isoDatePattern    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	slashDatePattern  = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}`)
	ticketPattern     = regexp.MustCompile(`#\d+`)
	longNumberPattern = regexp.MustCompile(`\d{4,}`)
	spaceRunPattern   = regexp.MustCompile(`\s+`)
)

// NormalizeSubjectPattern reduces a subject to a reusable pattern by masking
// ticket numbers, dates and long digit runs. "Invoice #4471 due 2024-03-01"
// and "Invoice #9103 due 2024-04-01" normalize to the same pattern.
func NormalizeSubjectPattern(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	s = isoDatePattern.ReplaceAllString(s, "<date>")
	s = slashDatePattern.ReplaceAllString(s, "<date>")
	s = ticketPattern.ReplaceAllString(s, "#<n>")
	s = longNumberPattern.ReplaceAllString(s, "<n>")
	s = spaceRunPattern.ReplaceAllString(s, " ")
	return s
}
