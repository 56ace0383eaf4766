package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/relaygate/relaygate/internal/domain/pipeline"
	"github.com/relaygate/relaygate/internal/domain/upstream"
	"github.com/relaygate/relaygate/internal/port/outbound"
)

// mockSession is an in-memory BackendSession for tests.
type mockSession struct {
	caps      *mcp.ServerCapabilities
	tools     []*mcp.Tool
	resources []*mcp.Resource
	prompts   []*mcp.Prompt

	listToolsErr     error
	listResourcesErr error
	listPromptsErr   error

	callTool  func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	listTools func(ctx context.Context) ([]*mcp.Tool, error)
	closeErr  error

	mu          sync.Mutex
	closed      bool
	closeCalls  int
	toolCalls   []string
	promptCalls []string
	readCalls   []string
}

var _ outbound.BackendSession = (*mockSession)(nil)

func (m *mockSession) Capabilities() *mcp.ServerCapabilities {
	if m.caps != nil {
		return m.caps
	}
	return &mcp.ServerCapabilities{
		Tools:     &mcp.ToolCapabilities{},
		Resources: &mcp.ResourceCapabilities{},
		Prompts:   &mcp.PromptCapabilities{},
	}
}

func (m *mockSession) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	if m.listTools != nil {
		return m.listTools(ctx)
	}
	if m.listToolsErr != nil {
		return nil, m.listToolsErr
	}
	return m.tools, nil
}

func (m *mockSession) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	if m.listResourcesErr != nil {
		return nil, m.listResourcesErr
	}
	return m.resources, nil
}

func (m *mockSession) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	if m.listPromptsErr != nil {
		return nil, m.listPromptsErr
	}
	return m.prompts, nil
}

func (m *mockSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	m.toolCalls = append(m.toolCalls, name)
	m.mu.Unlock()
	if m.callTool != nil {
		return m.callTool(ctx, name, args)
	}
	encoded, _ := json.Marshal(args)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(encoded)}},
	}, nil
}

func (m *mockSession) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	m.mu.Lock()
	m.promptCalls = append(m.promptCalls, name)
	m.mu.Unlock()
	return &mcp.GetPromptResult{
		Description: "rendered " + name,
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: "prompt " + name}},
		},
	}, nil
}

func (m *mockSession) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	m.mu.Lock()
	m.readCalls = append(m.readCalls, uri)
	m.mu.Unlock()
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, Text: "contents of " + uri}},
	}, nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeCalls++
	return m.closeErr
}

func (m *mockSession) wasClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// sessionFactory returns a factory serving one mock session per server
// name, failing for names in the fail set.
func sessionFactory(sessions map[string]*mockSession, fail map[string]bool) outbound.SessionFactory {
	return func(ctx context.Context, desc *upstream.Descriptor) (outbound.BackendSession, error) {
		if fail[desc.Name] {
			return nil, fmt.Errorf("spawn failed for %s", desc.Name)
		}
		session, ok := sessions[desc.Name]
		if !ok {
			return nil, fmt.Errorf("no mock session for %s", desc.Name)
		}
		return session, nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// emptyRunner builds a pipeline runner with no plugins.
func emptyRunner(logger *slog.Logger) *pipeline.Runner {
	registry, _ := pipeline.NewRegistry(nil, nil, nil, logger)
	return pipeline.NewRunner(registry, logger)
}

func descriptor(name string) *upstream.Descriptor {
	return &upstream.Descriptor{Name: name, Command: "/bin/true"}
}

func textTool(name, description string) *mcp.Tool {
	return &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "input text"}
			},
			"required": ["text"]
		}`),
	}
}
