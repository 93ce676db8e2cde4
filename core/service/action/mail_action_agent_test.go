package action

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kcalvelli/axios-ai-mail-sub000/adapter/out/persistence"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/agent/tools"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/infra/database"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"

	"github.com/rs/zerolog"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeRunner struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (r *fakeRunner) Generate(ctx context.Context, prompt string, opts out.GenerateOptions) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.response, nil
}

func (r *fakeRunner) ModelName() string { return "test-model" }

type toolCall struct {
	server string
	tool   string
	args   map[string]any
}

type fakeGateway struct {
	mu      sync.Mutex
	listErr error
	has     bool
	callErr error
	result  map[string]any
	calls   []toolCall
}

var _ out.ToolGateway = (*fakeGateway)(nil)

func (g *fakeGateway) ListTools(ctx context.Context) ([]out.ToolDescriptor, error) {
	return nil, g.listErr
}

func (g *fakeGateway) HasTool(ctx context.Context, server, tool string) (bool, error) {
	if g.listErr != nil {
		return false, g.listErr
	}
	return g.has, nil
}

func (g *fakeGateway) CallTool(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, toolCall{server: server, tool: tool, args: args})
	if g.callErr != nil {
		return nil, g.callErr
	}
	return g.result, nil
}

func (g *fakeGateway) InvalidateTools() {}

// =============================================================================
// Harness
// =============================================================================

type agentFixture struct {
	store   *persistence.Store
	runner  *fakeRunner
	gateway *fakeGateway
	agent   *Agent
}

func newTestAgent(t *testing.T) *agentFixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "mail.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := persistence.NewStore(db, false, zerolog.Nop())
	runner := &fakeRunner{response: `{"name":"Ada Lovelace","email":"ada@example.com"}`}
	gateway := &fakeGateway{has: true, result: map[string]any{"id": "c1"}}
	registry := tools.NewActionRegistry()
	registry.RegisterAll(tools.DefaultActions()...)
	return &agentFixture{
		store:   store,
		runner:  runner,
		gateway: gateway,
		agent:   NewAgent(store, runner, gateway, registry, Config{}, zerolog.Nop()),
	}
}

func seedTaggedMessage(t *testing.T, s *persistence.Store, accountID, messageID string, tags []string) {
	t.Helper()
	ctx := context.Background()
	if err := s.SaveAccount(ctx, &domain.Account{
		ID:       accountID,
		Name:     accountID,
		Email:    accountID + "@example.com",
		Provider: domain.ProviderIMAP,
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := s.UpsertMessage(ctx, &domain.Message{
		ID:        messageID,
		AccountID: accountID,
		Subject:   "Meet Ada",
		From:      "Intro <intro@people.example>",
		Date:      time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC),
		Folder:    domain.FolderInbox,
		BodyText:  "Please add Ada Lovelace, ada@example.com, to your contacts.",
		HasBody:   true,
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if err := s.SaveClassification(ctx, &domain.Classification{
		MessageID:    messageID,
		Tags:         tags,
		Priority:     domain.PriorityNormal,
		ModelName:    "test-model",
		Confidence:   0.9,
		ClassifiedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed classification: %v", err)
	}
}

func latestLog(t *testing.T, s *persistence.Store, messageID string) *domain.ActionLog {
	t.Helper()
	logs, err := s.ListActionLogs(context.Background(), messageID)
	if err != nil {
		t.Fatalf("list action logs: %v", err)
	}
	if len(logs) == 0 {
		t.Fatal("no action logs written")
	}
	return logs[0]
}

// =============================================================================
// Tests
// =============================================================================

func TestActionSuccessRemovesTag(t *testing.T) {
	ctx := context.Background()
	fx := newTestAgent(t)
	seedTaggedMessage(t, fx.store, "a1", "a1:INBOX:1", []string{"personal", "add-contact"})

	written, err := fx.agent.Run(ctx, "a1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if written != 1 {
		t.Errorf("written = %d, want 1", written)
	}

	row := latestLog(t, fx.store, "a1:INBOX:1")
	if row.Status != domain.ActionStatusSuccess {
		t.Fatalf("status = %q, want success", row.Status)
	}
	if row.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", row.Attempts)
	}
	if row.Extracted["name"] != "Ada Lovelace" || row.Extracted["email"] != "ada@example.com" {
		t.Errorf("extracted = %v", row.Extracted)
	}
	if row.Result["id"] != "c1" {
		t.Errorf("result = %v", row.Result)
	}

	if len(fx.gateway.calls) != 1 {
		t.Fatalf("gateway called %d times, want 1", len(fx.gateway.calls))
	}
	call := fx.gateway.calls[0]
	if call.server != "contacts" || call.tool != "create_contact" {
		t.Errorf("called %s/%s, want contacts/create_contact", call.server, call.tool)
	}
	// Default args underneath, extracted fields on top.
	if call.args["source"] != "email" || call.args["name"] != "Ada Lovelace" {
		t.Errorf("args = %v", call.args)
	}

	c, err := fx.store.GetClassification(ctx, "a1:INBOX:1")
	if err != nil {
		t.Fatalf("get classification: %v", err)
	}
	if !reflect.DeepEqual(c.Tags, []string{"personal"}) {
		t.Errorf("tags = %v, want trigger tag removed", c.Tags)
	}
}

func TestActionDropsNullFields(t *testing.T) {
	ctx := context.Background()
	fx := newTestAgent(t)
	fx.runner.response = `{"name":"Ada","email":null,"phone":null}`
	seedTaggedMessage(t, fx.store, "a1", "a1:INBOX:1", []string{"add-contact"})

	if _, err := fx.agent.Run(ctx, "a1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	call := fx.gateway.calls[0]
	if _, present := call.args["email"]; present {
		t.Error("null field forwarded to the tool")
	}
	if call.args["name"] != "Ada" {
		t.Errorf("args = %v", call.args)
	}
}

func TestActionExtractionFailureRetriesThenSkips(t *testing.T) {
	ctx := context.Background()
	fx := newTestAgent(t)
	fx.runner.response = "not json"
	seedTaggedMessage(t, fx.store, "a1", "a1:INBOX:1", []string{"add-contact"})

	// First pass: a real attempt that fails.
	if _, err := fx.agent.Run(ctx, "a1"); err != nil {
		t.Fatalf("run 1: %v", err)
	}
	row := latestLog(t, fx.store, "a1:INBOX:1")
	if row.Status != domain.ActionStatusFailed || row.Attempts != 1 {
		t.Fatalf("after run 1: status %q attempts %d, want failed/1", row.Status, row.Attempts)
	}

	// Second pass: same failure, counter advances.
	if _, err := fx.agent.Run(ctx, "a1"); err != nil {
		t.Fatalf("run 2: %v", err)
	}
	row = latestLog(t, fx.store, "a1:INBOX:1")
	if row.Status != domain.ActionStatusFailed || row.Attempts != 2 {
		t.Fatalf("after run 2: status %q attempts %d, want failed/2", row.Status, row.Attempts)
	}

	// Third pass: the pipeline gives up.
	if _, err := fx.agent.Run(ctx, "a1"); err != nil {
		t.Fatalf("run 3: %v", err)
	}
	row = latestLog(t, fx.store, "a1:INBOX:1")
	if row.Status != domain.ActionStatusSkipped || row.Error != maxRetriesReason {
		t.Fatalf("after run 3: status %q error %q, want skipped/max retries", row.Status, row.Error)
	}

	// The tag stays: retrying is an explicit log-deletion act.
	c, err := fx.store.GetClassification(ctx, "a1:INBOX:1")
	if err != nil {
		t.Fatalf("get classification: %v", err)
	}
	if !c.HasTag("add-contact") {
		t.Error("failed action removed the trigger tag")
	}

	// Further passes stay quiet instead of piling up skip markers.
	logs, _ := fx.store.ListActionLogs(ctx, "a1:INBOX:1")
	before := len(logs)
	if _, err := fx.agent.Run(ctx, "a1"); err != nil {
		t.Fatalf("run 4: %v", err)
	}
	logs, _ = fx.store.ListActionLogs(ctx, "a1:INBOX:1")
	if len(logs) != before {
		t.Errorf("run 4 wrote %d new rows, want 0", len(logs)-before)
	}

	if len(fx.gateway.calls) != 0 {
		t.Errorf("tool called %d times despite failed extraction", len(fx.gateway.calls))
	}
}

func TestActionSkipsWhenToolMissing(t *testing.T) {
	ctx := context.Background()
	fx := newTestAgent(t)
	fx.gateway.has = false
	seedTaggedMessage(t, fx.store, "a1", "a1:INBOX:1", []string{"add-contact"})

	if _, err := fx.agent.Run(ctx, "a1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	row := latestLog(t, fx.store, "a1:INBOX:1")
	if row.Status != domain.ActionStatusSkipped {
		t.Fatalf("status = %q, want skipped", row.Status)
	}
	if len(fx.gateway.calls) != 0 {
		t.Error("tool invoked despite missing registration")
	}
	if fx.runner.calls != 0 {
		t.Error("extraction ran despite missing tool")
	}
}

func TestActionPassSkipsWhenEndpointUnreachable(t *testing.T) {
	ctx := context.Background()
	fx := newTestAgent(t)
	fx.gateway.listErr = apperr.Connection("tools.example:8080", errors.New("refused"))
	seedTaggedMessage(t, fx.store, "a1", "a1:INBOX:1", []string{"add-contact"})

	written, err := fx.agent.Run(ctx, "a1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if written != 0 {
		t.Errorf("written = %d, want 0", written)
	}
	logs, err := fx.store.ListActionLogs(ctx, "a1:INBOX:1")
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("unreachable endpoint still wrote %d rows", len(logs))
	}
}

func TestDeletingLogsResetsAttempts(t *testing.T) {
	ctx := context.Background()
	fx := newTestAgent(t)
	fx.runner.response = "not json"
	seedTaggedMessage(t, fx.store, "a1", "a1:INBOX:1", []string{"add-contact"})

	for i := 0; i < 3; i++ {
		if _, err := fx.agent.Run(ctx, "a1"); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}
	if row := latestLog(t, fx.store, "a1:INBOX:1"); row.Status != domain.ActionStatusSkipped {
		t.Fatalf("status = %q, want skipped before reset", row.Status)
	}

	if _, err := fx.store.DeleteActionLogs(ctx, "a1:INBOX:1"); err != nil {
		t.Fatalf("delete logs: %v", err)
	}
	fx.runner.response = `{"name":"Ada"}`

	if _, err := fx.agent.Run(ctx, "a1"); err != nil {
		t.Fatalf("run after reset: %v", err)
	}
	row := latestLog(t, fx.store, "a1:INBOX:1")
	if row.Status != domain.ActionStatusSuccess || row.Attempts != 1 {
		t.Errorf("after reset: status %q attempts %d, want success/1", row.Status, row.Attempts)
	}
}

func TestMergeArgs(t *testing.T) {
	got := mergeArgs(
		map[string]any{"source": "email", "kind": "person"},
		map[string]any{"source": "manual", "name": "Ada"},
	)
	want := map[string]any{"source": "manual", "kind": "person", "name": "Ada"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeArgs = %v, want %v", got, want)
	}
}
