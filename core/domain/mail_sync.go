package domain

import "time"

// SyncError is one per-item failure inside a sync run. Item failures never
// abort the run for other items.
type SyncError struct {
	MessageID string `json:"message_id,omitempty"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

// SyncResult summarizes one sync run of one account.
type SyncResult struct {
	AccountID     string        `json:"account_id"`
	Fetched       int           `json:"fetched"`
	Classified    int           `json:"classified"`
	LabelsUpdated int           `json:"labels_updated"`
	OpsDrained    int           `json:"ops_drained"`
	Errors        []SyncError   `json:"errors,omitempty"`
	NewMessages   []*Message    `json:"new_messages,omitempty"`
	Duration      time.Duration `json:"duration"`
	StartedAt     time.Time     `json:"started_at"`
}

// Failed reports whether the run aborted at a stage boundary before any
// message work happened.
func (r *SyncResult) Failed() bool {
	return r.Fetched == 0 && r.Classified == 0 && len(r.Errors) > 0
}

// Engine event types pushed to the control plane.
const (
	EventSyncStarted       = "sync_started"
	EventSyncCompleted     = "sync_completed"
	EventMessageClassified = "message_classified"
	EventError             = "error"
)

// Event is one frame on the push-event stream.
type Event struct {
	Type      string    `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
