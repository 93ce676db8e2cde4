package out

import "context"

// =============================================================================
// Tool Gateway Port
// =============================================================================

// ToolDescriptor describes one remotely invokable tool.
type ToolDescriptor struct {
	ServerID    string         `json:"server_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// ToolGateway talks to the remote tool endpoint. The tool list is cached;
// InvalidateTools drops the cache. An unreachable endpoint is reported as a
// transport error and the caller skips the action pipeline.
type ToolGateway interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	HasTool(ctx context.Context, server, tool string) (bool, error)
	CallTool(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error)
	InvalidateTools()
}
