// Package tools binds classification tags to remote tool invocations and
// talks to the tool endpoint that hosts them.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/httputil"
)

// toolListTTL bounds how stale the cached tool list may get before the next
// ListTools refetches.
const toolListTTL = 5 * time.Minute

// GatewayClient implements out.ToolGateway against the REST tool endpoint.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	mu        sync.RWMutex
	tools     []out.ToolDescriptor
	fetchedAt time.Time
}

func NewGatewayClient(baseURL string, log zerolog.Logger) *GatewayClient {
	return &GatewayClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httputil.ToolClient(),
		log:        log,
	}
}

// ListTools returns the remote tool catalog, cached between calls.
func (g *GatewayClient) ListTools(ctx context.Context) ([]out.ToolDescriptor, error) {
	g.mu.RLock()
	if g.tools != nil && time.Since(g.fetchedAt) < toolListTTL {
		cached := g.tools
		g.mu.RUnlock()
		return cached, nil
	}
	g.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tools", nil)
	if err != nil {
		return nil, apperr.Internal("build tool list request", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Timeout("list tools", err)
		}
		return nil, apperr.Connection(g.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, apperr.Connection(g.baseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Protocol(
			fmt.Sprintf("tool endpoint returned %d", resp.StatusCode), nil)
	}

	var tools []out.ToolDescriptor
	if err := json.Unmarshal(raw, &tools); err != nil {
		// Some deployments wrap the list in {"tools": [...]}.
		var wrapped struct {
			Tools []out.ToolDescriptor `json:"tools"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, apperr.Protocol("decode tool list", err)
		}
		tools = wrapped.Tools
	}

	g.mu.Lock()
	g.tools = tools
	g.fetchedAt = time.Now()
	g.mu.Unlock()

	g.log.Debug().Int("count", len(tools)).Msg("tool list refreshed")
	return tools, nil
}

// HasTool reports whether (server, tool) is present in the remote catalog.
func (g *GatewayClient) HasTool(ctx context.Context, server, tool string) (bool, error) {
	tools, err := g.ListTools(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tools {
		if t.ServerID == server && t.Name == tool {
			return true, nil
		}
	}
	return false, nil
}

// CallTool invokes one remote tool and returns its structured result.
func (g *GatewayClient) CallTool(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{"arguments": args})
	if err != nil {
		return nil, apperr.Internal("encode tool call", err)
	}

	url := fmt.Sprintf("%s/api/tools/%s/%s", g.baseURL, server, tool)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Internal("build tool call request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Timeout("call tool "+tool, err)
		}
		return nil, apperr.Connection(g.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, apperr.Connection(g.baseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Protocol(
			fmt.Sprintf("tool %s/%s returned %d: %s", server, tool, resp.StatusCode, truncate(string(raw), 200)), nil)
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apperr.Protocol("decode tool result", err)
	}
	return result, nil
}

// InvalidateTools drops the cached catalog; the next ListTools refetches.
func (g *GatewayClient) InvalidateTools() {
	g.mu.Lock()
	g.tools = nil
	g.fetchedAt = time.Time{}
	g.mu.Unlock()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
