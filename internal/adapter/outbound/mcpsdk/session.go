// Package mcpsdk connects to backend MCP servers over stdio using the
// official MCP Go SDK.
package mcpsdk

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/relaygate/relaygate/internal/domain/upstream"
	"github.com/relaygate/relaygate/internal/port/outbound"
)

const (
	clientName    = "relaygate"
	clientVersion = "0.1.0"
)

// Session is an outbound.BackendSession backed by an mcp.ClientSession
// over a subprocess stdio transport.
type Session struct {
	session *mcp.ClientSession

	mu     sync.Mutex
	closed bool
}

// Compile-time check that Session implements BackendSession.
var _ outbound.BackendSession = (*Session)(nil)

// Connect launches the server the descriptor describes and performs
// the MCP initialize handshake. The subprocess inherits the parent
// environment with the descriptor's Env entries layered on top; its
// stderr is forwarded so backend logging stays visible.
func Connect(ctx context.Context, desc *upstream.Descriptor) (outbound.BackendSession, error) {
	cmd := exec.CommandContext(ctx, desc.Command, desc.Args...)
	cmd.Env = mergeEnv(os.Environ(), desc.Env)
	cmd.Stderr = os.Stderr

	client := mcp.NewClient(&mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)

	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", desc.Name, err)
	}

	return &Session{session: session}, nil
}

// Compile-time check that Connect satisfies the factory signature.
var _ outbound.SessionFactory = Connect

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, len(base), len(base)+len(overrides))
	copy(merged, base)
	for k, v := range overrides {
		merged = append(merged, k+"="+v)
	}
	return merged
}

// Capabilities returns the capability set from the initialize result.
func (s *Session) Capabilities() *mcp.ServerCapabilities {
	res := s.session.InitializeResult()
	if res == nil {
		return &mcp.ServerCapabilities{}
	}
	if res.Capabilities == nil {
		return &mcp.ServerCapabilities{}
	}
	return res.Capabilities
}

// ListTools returns the server's tools.
func (s *Session) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	res, err := s.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	return res.Tools, nil
}

// ListResources returns the server's resources.
func (s *Session) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	res, err := s.session.ListResources(ctx, &mcp.ListResourcesParams{})
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	return res.Resources, nil
}

// ListPrompts returns the server's prompts.
func (s *Session) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	res, err := s.session.ListPrompts(ctx, &mcp.ListPromptsParams{})
	if err != nil {
		return nil, fmt.Errorf("listing prompts: %w", err)
	}
	return res.Prompts, nil
}

// CallTool invokes a tool by its backend-local name.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("calling tool %q: %w", name, err)
	}
	return res, nil
}

// GetPrompt renders a prompt by its backend-local name.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	res, err := s.session.GetPrompt(ctx, &mcp.GetPromptParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("getting prompt %q: %w", name, err)
	}
	return res, nil
}

// ReadResource reads a resource by URI.
func (s *Session) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	res, err := s.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, fmt.Errorf("reading resource %q: %w", uri, err)
	}
	return res, nil
}

// Close terminates the session. The SDK transport reaps the subprocess.
// Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.session.Close(); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}
