package classify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/rs/zerolog"
)

type fakeRunner struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeRunner) Generate(_ context.Context, prompt string, _ out.GenerateOptions) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeRunner) ModelName() string { return "test-model" }

func testMessage() *domain.Message {
	return &domain.Message{
		ID:      "work:INBOX:1",
		Subject: "Invoice #4471",
		From:    "Billing <billing@acme.com>",
		To:      []string{"me@example.com"},
		Date:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Snippet: "Your invoice is attached.",
	}
}

func newTestClassifier(r *fakeRunner) *Classifier {
	return NewClassifier(r, Config{}, zerolog.Nop())
}

func TestClassifyNormalizesTags(t *testing.T) {
	runner := &fakeRunner{
		response: `{"tags": [" Finance ", "INVOICE", "finance", "cryptozoology"], "priority": "high", "action_required": true, "can_archive": false, "confidence": 0.92}`,
	}
	c := newTestClassifier(runner)

	got, err := c.Classify(context.Background(), testMessage(), nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	want := []string{"finance", "invoice"}
	if len(got.Tags) != len(want) {
		t.Fatalf("tags = %v, want %v", got.Tags, want)
	}
	for i := range want {
		if got.Tags[i] != want[i] {
			t.Errorf("tags[%d] = %q, want %q", i, got.Tags[i], want[i])
		}
	}
	if got.Priority != domain.PriorityHigh {
		t.Errorf("priority = %q, want high", got.Priority)
	}
	if !got.ActionRequired {
		t.Error("action_required lost")
	}
	if got.Confidence != 0.92 {
		t.Errorf("confidence = %v, want 0.92", got.Confidence)
	}
	if got.ModelName != "test-model" {
		t.Errorf("model name = %q", got.ModelName)
	}
}

func TestClassifyEmptyTagsDefaultToPersonal(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"empty array", `{"tags": [], "priority": "normal", "confidence": 0.9}`},
		{"missing key", `{"priority": "normal", "confidence": 0.9}`},
		{"all filtered", `{"tags": ["banana", "xyzzy"], "priority": "normal", "confidence": 0.9}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(&fakeRunner{response: tt.response})
			got, err := c.Classify(context.Background(), testMessage(), nil)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if len(got.Tags) != 1 || got.Tags[0] != domain.TagPersonal {
				t.Errorf("tags = %v, want [personal]", got.Tags)
			}
		})
	}
}

func TestClassifyCoercesPriority(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"high"`, "high"},
		{`"HIGH"`, "high"},
		{`"normal"`, "normal"},
		{`"urgent"`, "normal"},
		{`3`, "normal"},
		{`null`, "normal"},
	}
	for _, tt := range tests {
		c := newTestClassifier(&fakeRunner{
			response: `{"tags": ["work"], "priority": ` + tt.raw + `, "confidence": 0.9}`,
		})
		got, err := c.Classify(context.Background(), testMessage(), nil)
		if err != nil {
			t.Fatalf("Classify(%s): %v", tt.raw, err)
		}
		if got.Priority != tt.want {
			t.Errorf("priority(%s) = %q, want %q", tt.raw, got.Priority, tt.want)
		}
	}
}

func TestClassifyCoercesConfidence(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{`0.75`, 0.75},
		{`"0.6"`, 0.6},
		{`"very sure"`, 0.8},
		{`true`, 0.8},
		{`1.7`, 1},
		{`-0.2`, 0},
	}
	for _, tt := range tests {
		c := newTestClassifier(&fakeRunner{
			response: `{"tags": ["work"], "priority": "normal", "confidence": ` + tt.raw + `}`,
		})
		got, err := c.Classify(context.Background(), testMessage(), nil)
		if err != nil {
			t.Fatalf("Classify(%s): %v", tt.raw, err)
		}
		if got.Confidence != tt.want {
			t.Errorf("confidence(%s) = %v, want %v", tt.raw, got.Confidence, tt.want)
		}
	}
}

func TestClassifyMissingConfidenceDefaults(t *testing.T) {
	c := newTestClassifier(&fakeRunner{
		response: `{"tags": ["work"], "priority": "normal"}`,
	})
	got, err := c.Classify(context.Background(), testMessage(), nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", got.Confidence)
	}
}

func TestClassifyParseFailureFallsBack(t *testing.T) {
	c := newTestClassifier(&fakeRunner{
		response: "I believe this email is about an invoice.",
	})
	got, err := c.Classify(context.Background(), testMessage(), nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0] != domain.TagPersonal {
		t.Errorf("tags = %v, want [personal]", got.Tags)
	}
	if got.Priority != domain.PriorityNormal {
		t.Errorf("priority = %q, want normal", got.Priority)
	}
	if got.ActionRequired || got.CanArchive {
		t.Error("flags should default false on parse failure")
	}
	if got.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", got.Confidence)
	}
}

func TestClassifyStripsCodeFences(t *testing.T) {
	c := newTestClassifier(&fakeRunner{
		response: "```json\n{\"tags\": [\"work\"], \"priority\": \"normal\", \"confidence\": 0.9}\n```",
	})
	got, err := c.Classify(context.Background(), testMessage(), nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "work" {
		t.Errorf("tags = %v, want [work]", got.Tags)
	}
}

func TestClassifyPropagatesTransportErrors(t *testing.T) {
	c := newTestClassifier(&fakeRunner{
		err: apperr.Connection("http://localhost:11434", context.DeadlineExceeded),
	})
	_, err := c.Classify(context.Background(), testMessage(), nil)
	if err == nil {
		t.Fatal("transport error swallowed")
	}
	if !apperr.IsRetryable(err) {
		t.Errorf("transport error should be retryable, got %v", err)
	}
}

func TestPromptContainsTaxonomyAndExamples(t *testing.T) {
	runner := &fakeRunner{response: `{"tags": ["work"], "priority": "normal", "confidence": 0.9}`}
	c := newTestClassifier(runner)

	examples := []*domain.Feedback{{
		SenderDomain:   "acme.com",
		SubjectPattern: "invoice #<n>",
		CorrectedTags:  []string{"finance", "invoice"},
	}}
	if _, err := c.Classify(context.Background(), testMessage(), examples); err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if len(runner.prompts) != 1 {
		t.Fatalf("got %d prompts", len(runner.prompts))
	}
	prompt := runner.prompts[0]
	for _, tag := range domain.DefaultTaxonomy {
		if !strings.Contains(prompt, "- "+tag+":") {
			t.Errorf("prompt missing taxonomy tag %q", tag)
		}
	}
	if !strings.Contains(prompt, "acme.com") || !strings.Contains(prompt, "invoice #<n>") {
		t.Error("prompt missing few-shot correction")
	}
	if !strings.Contains(prompt, "Invoice #4471") {
		t.Error("prompt missing message subject")
	}
}

func TestSuggestRepliesTrimsAndCaps(t *testing.T) {
	long := strings.Repeat("x", 600)
	c := newTestClassifier(&fakeRunner{
		response: `{"replies": ["  Sounds good.  ", "", "` + long + `", "Thanks!", "Will do.", "On it."]}`,
	})

	replies, err := c.SuggestReplies(context.Background(), testMessage(), "body")
	if err != nil {
		t.Fatalf("SuggestReplies: %v", err)
	}
	if len(replies) != maxReplySuggestions {
		t.Fatalf("got %d replies, want %d", len(replies), maxReplySuggestions)
	}
	if replies[0] != "Sounds good." {
		t.Errorf("replies[0] = %q, not trimmed", replies[0])
	}
	if len(replies[1]) != maxReplyLength {
		t.Errorf("long reply length = %d, want %d", len(replies[1]), maxReplyLength)
	}
}

func TestSuggestRepliesParseFailureIsEmpty(t *testing.T) {
	c := newTestClassifier(&fakeRunner{response: "Sure! Here are some replies: 1. ..."})
	replies, err := c.SuggestReplies(context.Background(), testMessage(), "body")
	if err != nil {
		t.Fatalf("SuggestReplies: %v", err)
	}
	if len(replies) != 0 {
		t.Errorf("got %d replies from garbage, want 0", len(replies))
	}
}
