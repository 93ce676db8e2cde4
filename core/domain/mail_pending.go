package domain

import "time"

// Operations echoed to the provider by the pending queue.
const (
	OpMarkRead   = "mark_read"
	OpMarkUnread = "mark_unread"
	OpTrash      = "trash"
	OpRestore    = "restore"
	OpDelete     = "delete"
)

// Pending operation states.
const (
	OpStatusPending   = "pending"
	OpStatusCompleted = "completed"
	OpStatusFailed    = "failed"
)

// MaxOperationAttempts is the default attempt cap before an operation is
// marked failed.
const MaxOperationAttempts = 3

// oppositeOps pairs operations that cancel each other when both are pending
// for the same message.
var oppositeOps = map[string]string{
	OpMarkRead:   OpMarkUnread,
	OpMarkUnread: OpMarkRead,
	OpTrash:      OpRestore,
	OpRestore:    OpTrash,
}

// OppositeOperation returns the cancelling counterpart of op, or "" when op
// has none (delete is never cancelled).
func OppositeOperation(op string) string {
	return oppositeOps[op]
}

// IsValidOperation reports whether op is one of the queue operations.
func IsValidOperation(op string) bool {
	switch op {
	case OpMarkRead, OpMarkUnread, OpTrash, OpRestore, OpDelete:
		return true
	}
	return false
}

// PendingOperation is one durable queue row describing a local mutation that
// must be echoed to the provider.
type PendingOperation struct {
	ID          int64      `json:"id"`
	AccountID   string     `json:"account_id"`
	MessageID   string     `json:"message_id"`
	Operation   string     `json:"operation"`
	Attempts    int        `json:"attempts"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CanRetry reports whether another attempt is allowed under the given cap.
func (p *PendingOperation) CanRetry(maxAttempts int) bool {
	return p.Status == OpStatusPending && p.Attempts < maxAttempts
}

// IsTerminal reports whether the operation has left the queue's active set.
func (p *PendingOperation) IsTerminal() bool {
	return p.Status == OpStatusCompleted || p.Status == OpStatusFailed
}
