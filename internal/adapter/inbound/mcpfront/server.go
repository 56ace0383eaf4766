// Package mcpfront exposes the gateway's projected capabilities as an
// MCP server over stdio.
package mcpfront

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/relaygate/relaygate/internal/domain/capability"
	"github.com/relaygate/relaygate/internal/service"
)

const (
	serverName    = "relaygate"
	serverVersion = "0.1.0"

	// metadataToolName is the built-in status tool.
	metadataToolName = "get_metadata"
)

// Server is the inbound MCP surface. It registers one handler per
// projected capability plus the built-in metadata tool.
type Server struct {
	gateway *service.Gateway
	server  *mcp.Server
	logger  *slog.Logger
}

// New builds the frontend over a started gateway. The projection must
// already be built; registration snapshots it.
func New(gateway *service.Gateway, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		gateway: gateway,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, &mcp.ServerOptions{
			HasTools:     true,
			HasPrompts:   true,
			HasResources: true,
		}),
		logger: logger,
	}
	s.registerMetadataTool()
	s.registerProjected()
	return s
}

// Run serves MCP over stdio until the context is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// registerProjected adds one handler per projected capability.
func (s *Server) registerProjected() {
	projector := s.gateway.Projector

	for _, desc := range projector.Tools() {
		desc := desc
		s.server.AddTool(&mcp.Tool{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: capability.JSONSchemaFromParams(desc.Params),
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args, err := decodeArgs(req)
			if err != nil {
				return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			return projector.CallTool(ctx, desc.Name, args), nil
		})
	}

	for _, desc := range projector.Prompts() {
		desc := desc
		s.server.AddPrompt(&mcp.Prompt{
			Name:        desc.Name,
			Description: desc.Description,
			Arguments:   promptArguments(desc.Params),
		}, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			var args map[string]string
			if req.Params != nil {
				args = req.Params.Arguments
			}
			return projector.GetPrompt(ctx, desc.Name, args)
		})
	}

	for _, entry := range projector.Resources() {
		uri := entry.Resource.URI
		s.server.AddResource(entry.Resource, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return projector.ReadResource(ctx, uri)
		})
	}
}

// registerMetadataTool adds the status tool reporting every configured
// server, its state, and its projected capabilities.
func (s *Server) registerMetadataTool() {
	s.server.AddTool(&mcp.Tool{
		Name:        metadataToolName,
		Description: "Report the gateway's backend servers, their states, and projected capabilities.",
		InputSchema: capability.JSONSchemaFromParams(nil),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report := s.gateway.Metadata()
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return errorResult(fmt.Sprintf("encoding metadata: %v", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(encoded)}},
		}, nil
	})
}

// decodeArgs unmarshals the raw tool arguments into a generic map.
func decodeArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}

func promptArguments(params []capability.Param) []*mcp.PromptArgument {
	if len(params) == 0 {
		return nil
	}
	out := make([]*mcp.PromptArgument, 0, len(params))
	for _, p := range params {
		out = append(out, &mcp.PromptArgument{
			Name:        p.Name,
			Description: p.Description,
			Required:    p.Required,
		})
	}
	return out
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
