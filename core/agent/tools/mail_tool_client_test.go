package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

const toolCatalog = `[
	{"server_id": "calendar", "name": "create_event", "description": "creates an event"},
	{"server_id": "contacts", "name": "create_contact", "description": "creates a contact"}
]`

func TestListToolsCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tools" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(toolCatalog))
	}))
	defer srv.Close()

	g := NewGatewayClient(srv.URL, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tools, err := g.ListTools(ctx)
		if err != nil {
			t.Fatalf("ListTools %d: %v", i, err)
		}
		if len(tools) != 2 {
			t.Fatalf("got %d tools, want 2", len(tools))
		}
	}
	if hits.Load() != 1 {
		t.Errorf("endpoint hit %d times, want 1 (cached)", hits.Load())
	}

	g.InvalidateTools()
	if _, err := g.ListTools(ctx); err != nil {
		t.Fatalf("ListTools after invalidate: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("endpoint hit %d times after invalidate, want 2", hits.Load())
	}
}

func TestListToolsAcceptsWrappedList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tools": ` + toolCatalog + `}`))
	}))
	defer srv.Close()

	g := NewGatewayClient(srv.URL, zerolog.Nop())
	tools, err := g.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 {
		t.Errorf("got %d tools, want 2", len(tools))
	}
}

func TestHasTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(toolCatalog))
	}))
	defer srv.Close()

	g := NewGatewayClient(srv.URL, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		server string
		tool   string
		want   bool
	}{
		{"calendar", "create_event", true},
		{"contacts", "create_contact", true},
		{"calendar", "create_contact", false},
		{"tasks", "create_task", false},
	}
	for _, tt := range tests {
		got, err := g.HasTool(ctx, tt.server, tt.tool)
		if err != nil {
			t.Fatalf("HasTool(%s, %s): %v", tt.server, tt.tool, err)
		}
		if got != tt.want {
			t.Errorf("HasTool(%s, %s) = %v, want %v", tt.server, tt.tool, got, tt.want)
		}
	}
}

func TestCallToolPostsArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/tools/calendar/create_event" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"status": "created", "event_id": "ev-1"}`))
	}))
	defer srv.Close()

	g := NewGatewayClient(srv.URL, zerolog.Nop())
	result, err := g.CallTool(context.Background(), "calendar", "create_event",
		map[string]any{"title": "standup"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result["status"] != "created" {
		t.Errorf("result = %v", result)
	}
}

func TestCallToolErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tool exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewGatewayClient(srv.URL, zerolog.Nop())
	if _, err := g.CallTool(context.Background(), "calendar", "create_event", nil); err == nil {
		t.Fatal("expected error from 500 response")
	}
}

func TestActionRegistryBindings(t *testing.T) {
	r := NewActionRegistry()
	r.RegisterAll(DefaultActions()...)

	if got := r.Get("add-event"); got == nil || got.Server != "calendar" {
		t.Errorf("add-event binding = %+v", got)
	}
	if got := r.Get("add-contact"); got == nil || got.Tool != "create_contact" {
		t.Errorf("add-contact binding = %+v", got)
	}
	if got := r.Get("newsletter"); got != nil {
		t.Errorf("unbound tag returned %+v", got)
	}
	if len(r.Tags()) != 2 {
		t.Errorf("tags = %v", r.Tags())
	}
}
