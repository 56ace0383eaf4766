// Package outbound defines the interfaces the service layer uses to
// reach external systems.
package outbound

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/relaygate/relaygate/internal/domain/upstream"
)

// BackendSession is an established connection to one backend MCP
// server. Implementations own the subprocess and transport and must be
// safe for concurrent calls.
type BackendSession interface {
	// Capabilities returns the capability set the server advertised
	// during the initialize handshake. Never nil after a successful
	// connect.
	Capabilities() *mcp.ServerCapabilities

	// ListTools returns the server's tools. An empty slice is a valid
	// result for a server that advertises no tools.
	ListTools(ctx context.Context) ([]*mcp.Tool, error)

	// ListResources returns the server's resources.
	ListResources(ctx context.Context) ([]*mcp.Resource, error)

	// ListPrompts returns the server's prompts.
	ListPrompts(ctx context.Context) ([]*mcp.Prompt, error)

	// CallTool invokes a tool by its backend-local name.
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)

	// GetPrompt renders a prompt by its backend-local name.
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)

	// ReadResource reads a resource by URI.
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)

	// Close terminates the session and reaps the subprocess. Safe to
	// call more than once.
	Close() error
}

// SessionFactory launches the server a descriptor describes and
// performs the MCP handshake, returning a live session.
type SessionFactory func(ctx context.Context, desc *upstream.Descriptor) (BackendSession, error)
