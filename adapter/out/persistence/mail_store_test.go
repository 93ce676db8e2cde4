package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/infra/database"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "mail.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	hasFTS := database.EnsureSearchIndex(context.Background(), db, zerolog.Nop())
	return NewStore(db, hasFTS, zerolog.Nop())
}

func seedAccount(t *testing.T, s *Store, id string) *domain.Account {
	t.Helper()
	acct := &domain.Account{
		ID:       id,
		Name:     id,
		Email:    id + "@example.com",
		Provider: domain.ProviderIMAP,
	}
	if err := s.SaveAccount(context.Background(), acct); err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
	return acct
}

func seedMessage(t *testing.T, s *Store, accountID, id string) *domain.Message {
	t.Helper()
	msg := &domain.Message{
		ID:        id,
		AccountID: accountID,
		Subject:   "hello",
		From:      "Alice <alice@example.com>",
		Date:      time.Now().UTC().Truncate(time.Second),
		IsUnread:  true,
		Folder:    domain.FolderInbox,
	}
	if err := s.UpsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("seed message %s: %v", id, err)
	}
	return msg
}

// =============================================================================
// Pending Queue
// =============================================================================

func TestEnqueuePendingDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")

	for i := 0; i < 3; i++ {
		if err := s.EnqueuePending(ctx, "work", "work:INBOX:1", domain.OpMarkRead); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	ops, err := s.DequeuePending(ctx, "work", 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d pending ops, want 1", len(ops))
	}
	if ops[0].Operation != domain.OpMarkRead {
		t.Errorf("operation = %q, want %q", ops[0].Operation, domain.OpMarkRead)
	}
}

func TestEnqueuePendingOppositeCancels(t *testing.T) {
	tests := []struct {
		name   string
		first  string
		second string
	}{
		{"read then unread", domain.OpMarkRead, domain.OpMarkUnread},
		{"unread then read", domain.OpMarkUnread, domain.OpMarkRead},
		{"trash then restore", domain.OpTrash, domain.OpRestore},
		{"restore then trash", domain.OpRestore, domain.OpTrash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()
			seedAccount(t, s, "work")

			if err := s.EnqueuePending(ctx, "work", "work:INBOX:1", tt.first); err != nil {
				t.Fatalf("enqueue first: %v", err)
			}
			if err := s.EnqueuePending(ctx, "work", "work:INBOX:1", tt.second); err != nil {
				t.Fatalf("enqueue second: %v", err)
			}

			ops, err := s.DequeuePending(ctx, "work", 10)
			if err != nil {
				t.Fatalf("dequeue: %v", err)
			}
			if len(ops) != 0 {
				t.Errorf("got %d pending ops after cancellation, want 0", len(ops))
			}
		})
	}
}

func TestEnqueuePendingCancellationIsPerMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")

	if err := s.EnqueuePending(ctx, "work", "work:INBOX:1", domain.OpTrash); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Restore for a different message must not cancel message 1's trash.
	if err := s.EnqueuePending(ctx, "work", "work:INBOX:2", domain.OpRestore); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ops, err := s.DequeuePending(ctx, "work", 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("got %d pending ops, want 2", len(ops))
	}
}

func TestEnqueuePendingDeleteHasNoOpposite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")

	if err := s.EnqueuePending(ctx, "work", "work:INBOX:1", domain.OpTrash); err != nil {
		t.Fatalf("enqueue trash: %v", err)
	}
	if err := s.EnqueuePending(ctx, "work", "work:INBOX:1", domain.OpDelete); err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}

	ops, err := s.DequeuePending(ctx, "work", 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("got %d pending ops, want 2", len(ops))
	}
}

func TestEnqueuePendingRejectsUnknownOperation(t *testing.T) {
	s := newTestStore(t)
	err := s.EnqueuePending(context.Background(), "work", "work:INBOX:1", "archive")
	if !apperr.IsCode(err, apperr.CodeInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestDequeuePendingIsFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("work:INBOX:%d", i)
		if err := s.EnqueuePending(ctx, "work", id, domain.OpMarkRead); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	ops, err := s.DequeuePending(ctx, "work", 2)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("got %d ops, want 2", len(ops))
	}
	if ops[0].MessageID != "work:INBOX:1" || ops[1].MessageID != "work:INBOX:2" {
		t.Errorf("order = [%s, %s], want oldest first", ops[0].MessageID, ops[1].MessageID)
	}
}

func TestFailPendingFlipsToFailedAtCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")

	if err := s.EnqueuePending(ctx, "work", "work:INBOX:1", domain.OpTrash); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ops, _ := s.DequeuePending(ctx, "work", 1)
	if len(ops) != 1 {
		t.Fatal("expected one pending op")
	}
	id := ops[0].ID

	for i := 0; i < domain.MaxOperationAttempts; i++ {
		remaining, err := s.DequeuePending(ctx, "work", 10)
		if err != nil {
			t.Fatalf("dequeue attempt %d: %v", i, err)
		}
		if len(remaining) != 1 {
			t.Fatalf("attempt %d: op left the queue early", i)
		}
		if err := s.FailPending(ctx, id, "connection refused", domain.MaxOperationAttempts); err != nil {
			t.Fatalf("fail attempt %d: %v", i, err)
		}
	}

	remaining, err := s.DequeuePending(ctx, "work", 10)
	if err != nil {
		t.Fatalf("final dequeue: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("op still pending after %d failures", domain.MaxOperationAttempts)
	}

	failed, err := s.ListFailedOperations(ctx, "work")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("got %d failed ops, want 1", len(failed))
	}
	if failed[0].Attempts != domain.MaxOperationAttempts {
		t.Errorf("attempts = %d, want %d", failed[0].Attempts, domain.MaxOperationAttempts)
	}
	if failed[0].LastError != "connection refused" {
		t.Errorf("last error = %q", failed[0].LastError)
	}
}

func TestCompletePendingRemovesFromQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")

	if err := s.EnqueuePending(ctx, "work", "work:INBOX:1", domain.OpMarkRead); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ops, _ := s.DequeuePending(ctx, "work", 1)
	if err := s.CompletePending(ctx, ops[0].ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	remaining, err := s.DequeuePending(ctx, "work", 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("completed op still pending")
	}
}

// A completed operation must not block a fresh enqueue of the same kind.
func TestEnqueueAfterCompleteStartsFresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")

	if err := s.EnqueuePending(ctx, "work", "work:INBOX:1", domain.OpMarkRead); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ops, _ := s.DequeuePending(ctx, "work", 1)
	s.CompletePending(ctx, ops[0].ID)

	if err := s.EnqueuePending(ctx, "work", "work:INBOX:1", domain.OpMarkRead); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	ops, _ = s.DequeuePending(ctx, "work", 10)
	if len(ops) != 1 {
		t.Errorf("got %d pending ops, want 1", len(ops))
	}
}

// =============================================================================
// Message Local State
// =============================================================================

func TestUpsertMessagePreservesLocalState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")
	seedMessage(t, s, "work", "work:INBOX:1")

	if err := s.UpdateMessageRead(ctx, "work:INBOX:1", false); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := s.MoveToTrash(ctx, "work:INBOX:1"); err != nil {
		t.Fatalf("trash: %v", err)
	}

	// The provider still reports the message unread in INBOX.
	refetch := &domain.Message{
		ID:        "work:INBOX:1",
		AccountID: "work",
		Subject:   "hello (edited)",
		From:      "Alice <alice@example.com>",
		Date:      time.Now().UTC(),
		IsUnread:  true,
		Folder:    domain.FolderInbox,
	}
	if err := s.UpsertMessage(ctx, refetch); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := s.GetMessage(ctx, "work:INBOX:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsUnread {
		t.Error("re-upsert reverted local read state")
	}
	if got.Folder != domain.FolderTrash {
		t.Errorf("folder = %q, re-upsert reverted local trash", got.Folder)
	}
	if got.Subject != "hello (edited)" {
		t.Errorf("subject = %q, provider-owned field not refreshed", got.Subject)
	}
}

func TestTrashRestoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")

	msg := seedMessage(t, s, "work", "work:Archive:7")
	// Seed wrote the row in inbox; park it in archive first.
	if _, err := s.ext.ExecContext(ctx, `UPDATE messages SET folder = ? WHERE id = ?`,
		domain.FolderArchive, msg.ID); err != nil {
		t.Fatalf("set folder: %v", err)
	}

	if err := s.MoveToTrash(ctx, msg.ID); err != nil {
		t.Fatalf("trash: %v", err)
	}
	got, _ := s.GetMessage(ctx, msg.ID)
	if got.Folder != domain.FolderTrash || got.OriginalFolder != domain.FolderArchive {
		t.Fatalf("after trash: folder=%q original=%q", got.Folder, got.OriginalFolder)
	}

	if err := s.RestoreFromTrash(ctx, msg.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, _ = s.GetMessage(ctx, msg.ID)
	if got.Folder != domain.FolderArchive {
		t.Errorf("restored folder = %q, want %q", got.Folder, domain.FolderArchive)
	}
	if got.OriginalFolder != "" {
		t.Errorf("original folder not cleared: %q", got.OriginalFolder)
	}
}

func TestRestoreWithoutOriginalFolderFallsBackToInbox(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")
	msg := seedMessage(t, s, "work", "work:INBOX:9")

	if _, err := s.ext.ExecContext(ctx,
		`UPDATE messages SET folder = ?, original_folder = NULL WHERE id = ?`,
		domain.FolderTrash, msg.ID); err != nil {
		t.Fatalf("force trash: %v", err)
	}

	if err := s.RestoreFromTrash(ctx, msg.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, _ := s.GetMessage(ctx, msg.ID)
	if got.Folder != domain.FolderInbox {
		t.Errorf("folder = %q, want inbox fallback", got.Folder)
	}
}

// =============================================================================
// Action Logs
// =============================================================================

func TestCountActionAttemptsIgnoresSkipped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	logs := []*domain.ActionLog{
		{MessageID: "work:INBOX:1", ActionName: "add-event", Status: domain.ActionStatusFailed, Error: "timeout"},
		{MessageID: "work:INBOX:1", ActionName: "add-event", Status: domain.ActionStatusSkipped, Error: "tool unavailable"},
		{MessageID: "work:INBOX:1", ActionName: "add-event", Status: domain.ActionStatusFailed, Error: "timeout"},
		{MessageID: "work:INBOX:1", ActionName: "add-contact", Status: domain.ActionStatusSuccess},
		{MessageID: "work:INBOX:2", ActionName: "add-event", Status: domain.ActionStatusFailed},
	}
	for i, l := range logs {
		if err := s.SaveActionLog(ctx, l); err != nil {
			t.Fatalf("save log %d: %v", i, err)
		}
	}

	n, err := s.CountActionAttempts(ctx, "work:INBOX:1", "add-event")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("attempts = %d, want 2 (skipped rows excluded)", n)
	}
}

func TestDeleteActionLogsResetsCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.SaveActionLog(ctx, &domain.ActionLog{
			MessageID:  "work:INBOX:1",
			ActionName: "add-event",
			Status:     domain.ActionStatusFailed,
		})
		if err != nil {
			t.Fatalf("save log %d: %v", i, err)
		}
	}

	deleted, err := s.DeleteActionLogs(ctx, "work:INBOX:1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}

	n, _ := s.CountActionAttempts(ctx, "work:INBOX:1", "add-event")
	if n != 0 {
		t.Errorf("attempts = %d after reset, want 0", n)
	}
}

// =============================================================================
// Transactions
// =============================================================================

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")

	sentinel := fmt.Errorf("boom")
	err := s.WithTx(ctx, func(tx out.Store) error {
		if err := tx.EnqueuePending(ctx, "work", "work:INBOX:1", domain.OpTrash); err != nil {
			return err
		}
		return sentinel
	})
	if err == nil {
		t.Fatal("WithTx swallowed the error")
	}

	ops, _ := s.DequeuePending(ctx, "work", 10)
	if len(ops) != 0 {
		t.Errorf("rolled-back enqueue is visible: %d ops", len(ops))
	}
}

func TestReassignMessagesMovesRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "old")
	seedAccount(t, s, "new")
	seedMessage(t, s, "old", "old:INBOX:1")
	seedMessage(t, s, "old", "old:INBOX:2")

	moved, err := s.ReassignMessages(ctx, "old", "new")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if moved != 2 {
		t.Errorf("moved = %d, want 2", moved)
	}

	msgs, err := s.QueryMessages(ctx, &domain.MessageFilter{AccountID: "new"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("new account has %d messages, want 2", len(msgs))
	}
}

// =============================================================================
// Trusted Senders
// =============================================================================

func TestTrustedSenderNormalizedAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "work")

	if err := s.AddTrustedSender(ctx, "work", "  News@Example.COM "); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddTrustedSender(ctx, "work", "news@example.com"); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	senders, err := s.ListTrustedSenders(ctx, "work")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(senders) != 1 {
		t.Fatalf("got %d senders, want 1", len(senders))
	}
	if senders[0].Sender != "news@example.com" {
		t.Errorf("sender = %q, want normalized form", senders[0].Sender)
	}

	trusted, err := s.IsTrustedSender(ctx, "work", "NEWS@example.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !trusted {
		t.Error("lookup should match case-insensitively")
	}
}
