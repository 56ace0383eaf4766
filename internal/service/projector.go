package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/relaygate/relaygate/internal/domain/capability"
	"github.com/relaygate/relaygate/internal/domain/pipeline"
)

// HandlerDescriptor is one projected capability exposed to the caller
// under its namespaced name.
type HandlerDescriptor struct {
	// Name is the projected name, {server}_{capability}.
	Name string
	// Server is the backend server the capability belongs to.
	Server string
	// Capability is the backend-local name forwarded on dispatch.
	Capability string
	// Kind is the capability kind.
	Kind capability.Kind
	// Description is the backend-provided description.
	Description string
	// Params is the declared parameter list derived from the backend's
	// schema.
	Params []capability.Param
}

// Conflict records a projected name or resource URI claimed by more
// than one backend. The first claimant wins; later ones are skipped.
type Conflict struct {
	Name   string
	Kind   capability.Kind
	Winner string
	Loser  string
}

// ResourceEntry is one projected resource, routed by URI.
type ResourceEntry struct {
	Server   string
	Resource *mcp.Resource
}

// Projector builds the dispatch tables from the active servers'
// capability snapshots and routes projected calls back to the owning
// backend. Tables are built once after startup and read-only after.
type Projector struct {
	manager *ServerManager
	logger  *slog.Logger

	mu            sync.RWMutex
	tools         map[string]*HandlerDescriptor
	toolOrder     []string
	prompts       map[string]*HandlerDescriptor
	promptOrder   []string
	resources     map[string]*ResourceEntry
	resourceOrder []string
	conflicts     []Conflict
}

// NewProjector creates a projector over the manager. Rebuild must be
// called after the manager has started its servers.
func NewProjector(manager *ServerManager, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		manager:   manager,
		logger:    logger,
		tools:     make(map[string]*HandlerDescriptor),
		prompts:   make(map[string]*HandlerDescriptor),
		resources: make(map[string]*ResourceEntry),
	}
}

// ProjectedName returns the namespaced name for a capability.
func ProjectedName(server, capabilityName string) string {
	return server + "_" + capabilityName
}

// Rebuild regenerates the dispatch tables from the manager's active
// servers. Servers are visited in sorted name order, so name conflicts
// resolve deterministically: the alphabetically first server wins.
func (p *Projector) Rebuild() {
	tools := make(map[string]*HandlerDescriptor)
	prompts := make(map[string]*HandlerDescriptor)
	resources := make(map[string]*ResourceEntry)
	var toolOrder, promptOrder, resourceOrder []string
	var conflicts []Conflict

	for _, srv := range p.manager.Active() {
		for _, tool := range srv.Tools() {
			name := ProjectedName(srv.Name(), tool.Name)
			if existing, ok := tools[name]; ok {
				conflicts = append(conflicts, Conflict{
					Name: name, Kind: capability.KindTool,
					Winner: existing.Server, Loser: srv.Name(),
				})
				p.logger.Warn("tool name conflict, keeping first",
					"name", name, "winner", existing.Server, "loser", srv.Name())
				continue
			}
			tools[name] = &HandlerDescriptor{
				Name:        name,
				Server:      srv.Name(),
				Capability:  tool.Name,
				Kind:        capability.KindTool,
				Description: tool.Description,
				Params:      paramsFromSchema(tool.InputSchema),
			}
			toolOrder = append(toolOrder, name)
		}

		for _, prompt := range srv.Prompts() {
			name := ProjectedName(srv.Name(), prompt.Name)
			if existing, ok := prompts[name]; ok {
				conflicts = append(conflicts, Conflict{
					Name: name, Kind: capability.KindPrompt,
					Winner: existing.Server, Loser: srv.Name(),
				})
				p.logger.Warn("prompt name conflict, keeping first",
					"name", name, "winner", existing.Server, "loser", srv.Name())
				continue
			}
			prompts[name] = &HandlerDescriptor{
				Name:        name,
				Server:      srv.Name(),
				Capability:  prompt.Name,
				Kind:        capability.KindPrompt,
				Description: prompt.Description,
				Params:      paramsFromPromptArgs(prompt.Arguments),
			}
			promptOrder = append(promptOrder, name)
		}

		for _, res := range srv.Resources() {
			if existing, ok := resources[res.URI]; ok {
				conflicts = append(conflicts, Conflict{
					Name: res.URI, Kind: capability.KindResource,
					Winner: existing.Server, Loser: srv.Name(),
				})
				p.logger.Warn("resource URI conflict, keeping first",
					"uri", res.URI, "winner", existing.Server, "loser", srv.Name())
				continue
			}
			resources[res.URI] = &ResourceEntry{Server: srv.Name(), Resource: res}
			resourceOrder = append(resourceOrder, res.URI)
		}
	}

	p.mu.Lock()
	p.tools = tools
	p.toolOrder = toolOrder
	p.prompts = prompts
	p.promptOrder = promptOrder
	p.resources = resources
	p.resourceOrder = resourceOrder
	p.conflicts = conflicts
	p.mu.Unlock()

	p.logger.Info("capability projection built",
		"tools", len(tools),
		"prompts", len(prompts),
		"resources", len(resources),
		"conflicts", len(conflicts))
}

// paramsFromSchema extracts the parameter list from a tool input
// schema, which the SDK surfaces as an untyped value.
func paramsFromSchema(schema any) []capability.Param {
	if schema == nil {
		return nil
	}
	raw, ok := schema.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(schema)
		if err != nil {
			return nil
		}
		raw = encoded
	}
	return capability.ParamsFromJSONSchema(raw)
}

// paramsFromPromptArgs maps MCP prompt arguments, which are untyped, to
// string parameters.
func paramsFromPromptArgs(args []*mcp.PromptArgument) []capability.Param {
	if len(args) == 0 {
		return nil
	}
	params := make([]capability.Param, 0, len(args))
	for _, a := range args {
		params = append(params, capability.Param{
			Name:        a.Name,
			Type:        capability.TypeString,
			Description: a.Description,
			Required:    a.Required,
		})
	}
	return params
}

// Tools returns the projected tool descriptors in projection order.
func (p *Projector) Tools() []*HandlerDescriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*HandlerDescriptor, 0, len(p.toolOrder))
	for _, name := range p.toolOrder {
		out = append(out, p.tools[name])
	}
	return out
}

// Prompts returns the projected prompt descriptors in projection order.
func (p *Projector) Prompts() []*HandlerDescriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*HandlerDescriptor, 0, len(p.promptOrder))
	for _, name := range p.promptOrder {
		out = append(out, p.prompts[name])
	}
	return out
}

// Resources returns the projected resources in projection order.
func (p *Projector) Resources() []*ResourceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*ResourceEntry, 0, len(p.resourceOrder))
	for _, uri := range p.resourceOrder {
		out = append(out, p.resources[uri])
	}
	return out
}

// Conflicts returns the names that collided during projection.
func (p *Projector) Conflicts() []Conflict {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Conflict, len(p.conflicts))
	copy(out, p.conflicts)
	return out
}

// CallTool dispatches a projected tool call. Unknown names, argument
// validation failures, guardrail blocks, and backend failures all come
// back as error-flagged tool results rather than protocol errors, so a
// misbehaving backend cannot break the caller's session.
func (p *Projector) CallTool(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	p.mu.RLock()
	desc, ok := p.tools[name]
	p.mu.RUnlock()
	if !ok {
		return errorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	if err := validateArguments(desc.Params, args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}

	srv, ok := p.manager.Server(desc.Server)
	if !ok {
		return errorResult(fmt.Sprintf("server %s is not available", desc.Server))
	}

	result, err := srv.CallTool(ctx, desc.Capability, args)
	if err != nil {
		if errors.Is(err, pipeline.ErrPolicyBlocked) {
			var blockErr *pipeline.BlockError
			if errors.As(err, &blockErr) {
				return errorResult(fmt.Sprintf("call blocked: %s", blockErr.Reason))
			}
			return errorResult("call blocked by guardrail policy")
		}
		p.logger.Error("tool call failed", "tool", name, "server", desc.Server, "error", err)
		return errorResult(fmt.Sprintf("tool call failed: %v", err))
	}
	return result
}

// GetPrompt dispatches a projected prompt render. Prompt failures are
// protocol errors, matching MCP semantics for prompts.
func (p *Projector) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	p.mu.RLock()
	desc, ok := p.prompts[name]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: prompt %s", ErrUnknownCapability, name)
	}

	if err := validateRequiredStrings(desc.Params, args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
	}

	srv, ok := p.manager.Server(desc.Server)
	if !ok {
		return nil, fmt.Errorf("server %s is not available", desc.Server)
	}

	return srv.GetPrompt(ctx, desc.Capability, args)
}

// ReadResource routes a resource read to the backend that advertised
// the URI.
func (p *Projector) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	p.mu.RLock()
	entry, ok := p.resources[uri]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: resource %s", ErrUnknownCapability, uri)
	}

	srv, ok := p.manager.Server(entry.Server)
	if !ok {
		return nil, fmt.Errorf("server %s is not available", entry.Server)
	}

	return srv.ReadResource(ctx, uri)
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
