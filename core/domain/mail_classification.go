package domain

import "time"

// Classification priorities. The model is asked for exactly these two.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

// TagPersonal is the fallback tag applied when the model returns nothing
// usable.
const TagPersonal = "personal"

// DefaultTaxonomy is the built-in tag set, overridable per deployment.
// Order is the order tags are offered to the model.
var DefaultTaxonomy = []string{
	"personal",
	"work",
	"finance",
	"invoice",
	"shopping",
	"travel",
	"social",
	"newsletter",
	"notification",
	"spam",
	"add-contact",
	"add-event",
}

// TagDescriptions feed the classification prompt. Every taxonomy tag has an
// entry; tags added via configuration fall back to a generic line.
var TagDescriptions = map[string]string{
	"personal":     "private correspondence from individuals",
	"work":         "professional correspondence, projects, meetings",
	"finance":      "banking, statements, payment confirmations",
	"invoice":      "bills and invoices requesting payment",
	"shopping":     "order confirmations, shipping updates, receipts",
	"travel":       "bookings, itineraries, check-in reminders",
	"social":       "social network notifications and mentions",
	"newsletter":   "recurring editorial or marketing mailings",
	"notification": "automated service and system notifications",
	"spam":         "unsolicited bulk mail",
	"add-contact":  "sender introduces a person whose details should be saved",
	"add-event":    "message proposes a concrete appointment or event",
}

// Classification is the stored model verdict for one message. Replacing it
// never deletes the message.
type Classification struct {
	MessageID      string    `json:"message_id"`
	Tags           []string  `json:"tags"`
	Priority       string    `json:"priority"`
	ActionRequired bool      `json:"action_required"`
	CanArchive     bool      `json:"can_archive"`
	ModelName      string    `json:"model_name"`
	Confidence     float64   `json:"confidence"`
	ClassifiedAt   time.Time `json:"classified_at"`
}

// HasTag reports whether the classification carries the given tag.
func (c *Classification) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// WithoutTag returns the tag list minus the given tag, preserving order.
func (c *Classification) WithoutTag(tag string) []string {
	out := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}

// ClassifiedMessage pairs a message with its stored classification for
// consumers that scan by tag.
type ClassifiedMessage struct {
	Message        *Message        `json:"message"`
	Classification *Classification `json:"classification"`
}
