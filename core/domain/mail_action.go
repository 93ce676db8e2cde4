package domain

import "time"

// Action log outcomes.
const (
	ActionStatusSuccess = "success"
	ActionStatusFailed  = "failed"
	ActionStatusSkipped = "skipped"
)

// MaxActionRetries is the default attempt cap per (message, action) pair.
// Deleting the message's action-log rows resets the counter.
const MaxActionRetries = 3

// ActionLog is the durable audit record of one tool-invocation attempt.
type ActionLog struct {
	ID         string         `json:"id"`
	AccountID  string         `json:"account_id"`
	MessageID  string         `json:"message_id"`
	ActionName string         `json:"action_name"`
	Server     string         `json:"server"`
	Tool       string         `json:"tool"`
	Status     string         `json:"status"`
	Extracted  map[string]any `json:"extracted,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	ProcessedAt time.Time     `json:"processed_at"`
}

// ActionDefinition binds a classification tag to a remote tool. The
// extraction prompt pulls a structured payload out of the message; defaults
// fill fields the extractor leaves empty.
type ActionDefinition struct {
	Tag              string         `json:"tag"`
	Server           string         `json:"server"`
	Tool             string         `json:"tool"`
	ExtractionPrompt string         `json:"extraction_prompt"`
	DefaultArgs      map[string]any `json:"default_args,omitempty"`
}
