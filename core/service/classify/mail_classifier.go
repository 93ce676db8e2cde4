// Package classify turns raw messages into normalized tag verdicts through
// the local inference endpoint.
package classify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

// Classifier builds prompts from the tag taxonomy, calls the inference
// runner in JSON mode and normalizes whatever comes back. A Classifier is
// safe for concurrent use.
type Classifier struct {
	runner       out.InferenceRunner
	taxonomy     []string
	descriptions map[string]string
	temperature  float64
	replyTemp    float64
	timeout      time.Duration
	log          zerolog.Logger
}

type Config struct {
	// Taxonomy overrides the built-in tag set when non-empty.
	Taxonomy    []string
	Temperature float64
	ReplyTemp   float64
	Timeout     time.Duration
}

func NewClassifier(runner out.InferenceRunner, cfg Config, log zerolog.Logger) *Classifier {
	taxonomy := cfg.Taxonomy
	if len(taxonomy) == 0 {
		taxonomy = domain.DefaultTaxonomy
	}
	descriptions := make(map[string]string, len(taxonomy))
	for _, tag := range taxonomy {
		if d, ok := domain.TagDescriptions[tag]; ok {
			descriptions[tag] = d
		} else {
			descriptions[tag] = "messages matching the " + tag + " category"
		}
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.2
	}
	replyTemp := cfg.ReplyTemp
	if replyTemp == 0 {
		replyTemp = 0.7
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Classifier{
		runner:       runner,
		taxonomy:     taxonomy,
		descriptions: descriptions,
		temperature:  temperature,
		replyTemp:    replyTemp,
		timeout:      timeout,
		log:          log,
	}
}

// Taxonomy returns the active tag set in prompt order.
func (c *Classifier) Taxonomy() []string {
	return c.taxonomy
}

// =============================================================================
// Classification
// =============================================================================

// Classify runs one message through the model. Transport errors propagate
// (they are retryable); garbage model output degrades to the low-confidence
// fallback verdict instead of failing the message.
func (c *Classifier) Classify(ctx context.Context, msg *domain.Message, examples []*domain.Feedback) (*domain.Classification, error) {
	prompt := c.buildPrompt(msg, examples)

	raw, err := c.runner.Generate(ctx, prompt, out.GenerateOptions{
		Temperature: c.temperature,
		Timeout:     c.timeout,
	})
	if err != nil {
		return nil, err
	}

	cls := c.parseResponse(raw)
	cls.MessageID = msg.ID
	cls.ModelName = c.runner.ModelName()
	cls.ClassifiedAt = time.Now().UTC()
	return cls, nil
}

func (c *Classifier) buildPrompt(msg *domain.Message, examples []*domain.Feedback) string {
	var b strings.Builder

	b.WriteString("You are an email classification assistant. Classify the email below and respond with JSON only.\n\n")
	b.WriteString("Available tags (use only these):\n")
	for _, tag := range c.taxonomy {
		fmt.Fprintf(&b, "- %s: %s\n", tag, c.descriptions[tag])
	}

	if len(examples) > 0 {
		b.WriteString("\nThe user has corrected similar emails before. Follow these corrections:\n")
		for _, f := range examples {
			fmt.Fprintf(&b, "- sender domain %q, subject like %q: correct tags are [%s]\n",
				f.SenderDomain, f.SubjectPattern, strings.Join(f.CorrectedTags, ", "))
		}
	}

	fmt.Fprintf(&b, `
Email:
Subject: %s
From: %s
To: %s
Date: %s
Snippet: %s

Respond with a JSON object with exactly these keys:
{
  "tags": ["tag1", "tag2"],
  "priority": "high" or "normal",
  "action_required": true or false,
  "can_archive": true or false,
  "confidence": 0.0 to 1.0
}`,
		msg.Subject, msg.From, strings.Join(msg.To, ", "),
		msg.Date.UTC().Format("2006-01-02 15:04"), truncateText(msg.Snippet, 2000))

	return b.String()
}

// parseResponse applies the normalization rules field by field. A response
// that is not JSON at all yields the low-confidence personal fallback.
func (c *Classifier) parseResponse(raw string) *domain.Classification {
	raw = cleanJSONResponse(raw)

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		c.log.Warn().Err(err).Str("response", truncateText(raw, 200)).
			Msg("classification response is not JSON, using fallback")
		return &domain.Classification{
			Tags:       []string{domain.TagPersonal},
			Priority:   domain.PriorityNormal,
			Confidence: 0.5,
		}
	}

	return &domain.Classification{
		Tags:           c.normalizeTags(fields["tags"]),
		Priority:       normalizePriority(fields["priority"]),
		ActionRequired: coerceBool(fields["action_required"]),
		CanArchive:     coerceBool(fields["can_archive"]),
		Confidence:     coerceConfidence(fields["confidence"]),
	}
}

// normalizeTags lowercases, trims, dedupes preserving first occurrence and
// filters against the taxonomy. Nothing left means personal.
func (c *Classifier) normalizeTags(v any) []string {
	var tags []string
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}
	case []string:
		tags = list
	case string:
		tags = []string{list}
	}

	allowed := make(map[string]bool, len(c.taxonomy))
	for _, t := range c.taxonomy {
		allowed[t] = true
	}

	seen := make(map[string]bool, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] || !allowed[tag] {
			continue
		}
		seen[tag] = true
		normalized = append(normalized, tag)
	}

	if len(normalized) == 0 {
		return []string{domain.TagPersonal}
	}
	return normalized
}

func normalizePriority(v any) string {
	if s, ok := v.(string); ok {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == domain.PriorityHigh || s == domain.PriorityNormal {
			return s
		}
	}
	return domain.PriorityNormal
}

func coerceBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	}
	return false
}

func coerceConfidence(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0.8
		}
		f = parsed
	default:
		return 0.8
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// =============================================================================
// Reply Suggestions
// =============================================================================

const (
	maxReplySuggestions = 4
	maxReplyLength      = 500
)

// SuggestReplies asks the model for short reply candidates. Parse failures
// degrade to an empty list; only transport failures are errors.
func (c *Classifier) SuggestReplies(ctx context.Context, msg *domain.Message, body string) ([]string, error) {
	prompt := fmt.Sprintf(`You draft short email replies. Suggest up to %d replies to the email below.
Each reply is one or two sentences, ready to send as-is.

Email:
Subject: %s
From: %s

Body:
%s

Respond with a JSON object: {"replies": ["reply 1", "reply 2"]}`,
		maxReplySuggestions, msg.Subject, msg.From, truncateText(body, 2000))

	raw, err := c.runner.Generate(ctx, prompt, out.GenerateOptions{
		Temperature: c.replyTemp,
		Timeout:     c.timeout,
	})
	if err != nil {
		if apperr.IsRetryable(err) {
			return nil, err
		}
		c.log.Warn().Err(err).Str("message_id", msg.ID).Msg("reply suggestion failed")
		return nil, nil
	}

	var parsed struct {
		Replies []string `json:"replies"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &parsed); err != nil {
		c.log.Debug().Err(err).Msg("reply suggestions unparseable, returning none")
		return nil, nil
	}

	replies := make([]string, 0, maxReplySuggestions)
	for _, r := range parsed.Replies {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if len(r) > maxReplyLength {
			r = r[:maxReplyLength]
		}
		replies = append(replies, r)
		if len(replies) == maxReplySuggestions {
			break
		}
	}
	return replies, nil
}

// =============================================================================
// Helpers
// =============================================================================

// cleanJSONResponse strips the markdown fences some models wrap JSON in.
func cleanJSONResponse(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}

func truncateText(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
