package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/relaygate/relaygate/internal/domain/capability"
	"github.com/relaygate/relaygate/internal/domain/pipeline"
	"github.com/relaygate/relaygate/internal/domain/upstream"
	"github.com/relaygate/relaygate/internal/port/outbound"
)

// DefaultCallTimeout bounds a single backend capability call when the
// configuration does not set one.
const DefaultCallTimeout = 60 * time.Second

// ProxiedServer owns the lifecycle of one backend MCP server: launch,
// capability snapshot, call forwarding through the pipeline, and
// teardown. All methods are safe for concurrent use.
type ProxiedServer struct {
	desc        *upstream.Descriptor
	factory     outbound.SessionFactory
	runner      *pipeline.Runner
	callTimeout time.Duration
	logger      *slog.Logger

	mu         sync.RWMutex
	state      upstream.State
	session    outbound.BackendSession
	everActive bool

	// Teardown functions registered during Start, released in reverse
	// order on failure and on Stop.
	releases []func() error

	tools     []*mcp.Tool
	resources []*mcp.Resource
	prompts   []*mcp.Prompt
}

// NewProxiedServer creates an uninitialized proxied server. Start must
// be called before any capability call.
func NewProxiedServer(desc *upstream.Descriptor, factory outbound.SessionFactory, runner *pipeline.Runner, callTimeout time.Duration, logger *slog.Logger) *ProxiedServer {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxiedServer{
		desc:        desc.Clone(),
		factory:     factory,
		runner:      runner,
		callTimeout: callTimeout,
		state:       upstream.StateUninitialized,
		logger:      logger.With("server", desc.Name),
	}
}

// Name returns the configured server name.
func (p *ProxiedServer) Name() string {
	return p.desc.Name
}

// State returns the current lifecycle state.
func (p *ProxiedServer) State() upstream.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// EverActive reports whether the server ever reached the active state.
// Stop is a no-op for servers that never did.
func (p *ProxiedServer) EverActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.everActive
}

// Start launches the backend, performs the handshake, and snapshots its
// capabilities. Valid from the uninitialized and stopped states. On any
// failure the partially acquired resources are released in reverse
// order and the server lands in the failed state. A Stop issued while
// Start is in flight wins: the server stays stopped and Start reports
// ErrNotStarted.
func (p *ProxiedServer) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != upstream.StateUninitialized && p.state != upstream.StateStopped {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w: server %q is %s", ErrAlreadyStarted, p.desc.Name, state)
	}
	p.state = upstream.StateStarting
	p.mu.Unlock()

	session, err := p.factory(ctx, p.desc)
	if err != nil {
		p.fail()
		return &LaunchError{Server: p.desc.Name, Err: err}
	}

	p.mu.Lock()
	// A concurrent Stop may have run while the factory was launching. It
	// could not see this session, so close it here.
	if p.state != upstream.StateStarting {
		p.mu.Unlock()
		if cerr := session.Close(); cerr != nil {
			p.logger.Warn("release failed during teardown", "error", cerr)
		}
		return fmt.Errorf("%w: server %q stopped during startup", ErrNotStarted, p.desc.Name)
	}
	p.session = session
	p.releases = append(p.releases, session.Close)
	p.mu.Unlock()

	tools, resources, prompts := p.fetchCapabilities(ctx, session)

	p.mu.Lock()
	// A Stop that ran during the capability fetch already released the
	// session; do not resurrect the server.
	if p.state != upstream.StateStarting {
		p.mu.Unlock()
		return fmt.Errorf("%w: server %q stopped during startup", ErrNotStarted, p.desc.Name)
	}
	p.tools = tools
	p.resources = resources
	p.prompts = prompts
	p.state = upstream.StateActive
	p.everActive = true
	p.mu.Unlock()

	p.logger.Info("server active",
		"tools", len(tools),
		"resources", len(resources),
		"prompts", len(prompts))
	return nil
}

// fetchCapabilities lists tools, resources, and prompts concurrently.
// Each kind is fetched only if the server advertised it, and each
// degrades independently to an empty list on error.
func (p *ProxiedServer) fetchCapabilities(ctx context.Context, session outbound.BackendSession) ([]*mcp.Tool, []*mcp.Resource, []*mcp.Prompt) {
	caps := session.Capabilities()

	var (
		wg        sync.WaitGroup
		tools     []*mcp.Tool
		resources []*mcp.Resource
		prompts   []*mcp.Prompt
	)

	if caps.Tools != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			listed, err := session.ListTools(ctx)
			if err != nil {
				p.logger.Warn("listing tools failed, continuing without", "error", err)
				return
			}
			tools = listed
		}()
	}

	if caps.Resources != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			listed, err := session.ListResources(ctx)
			if err != nil {
				p.logger.Warn("listing resources failed, continuing without", "error", err)
				return
			}
			resources = listed
		}()
	}

	if caps.Prompts != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			listed, err := session.ListPrompts(ctx)
			if err != nil {
				p.logger.Warn("listing prompts failed, continuing without", "error", err)
				return
			}
			prompts = listed
		}()
	}

	wg.Wait()
	return tools, resources, prompts
}

// fail releases acquired resources in reverse order and moves the
// server to the failed state.
func (p *ProxiedServer) fail() {
	p.mu.Lock()
	releases := p.releases
	p.releases = nil
	if p.state != upstream.StateStopped {
		p.state = upstream.StateFailed
	}
	p.session = nil
	p.mu.Unlock()

	p.release(releases)
}

func (p *ProxiedServer) release(releases []func() error) {
	for i := len(releases) - 1; i >= 0; i-- {
		if err := releases[i](); err != nil {
			p.logger.Warn("release failed during teardown", "error", err)
		}
	}
}

// Stop tears the server down from any state: remaining resources are
// released in reverse acquisition order, capability snapshots are
// cleared, and the server lands in the stopped state. Stopping twice is
// a no-op.
func (p *ProxiedServer) Stop() error {
	p.mu.Lock()
	if p.state == upstream.StateStopped {
		p.mu.Unlock()
		return nil
	}
	p.state = upstream.StateStopped
	releases := p.releases
	p.releases = nil
	p.session = nil
	p.tools = nil
	p.resources = nil
	p.prompts = nil
	p.mu.Unlock()

	p.release(releases)
	p.logger.Info("server stopped")
	return nil
}

// Tools returns the capability snapshot taken at startup.
func (p *ProxiedServer) Tools() []*mcp.Tool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tools
}

// Resources returns the resource snapshot taken at startup.
func (p *ProxiedServer) Resources() []*mcp.Resource {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.resources
}

// Prompts returns the prompt snapshot taken at startup.
func (p *ProxiedServer) Prompts() []*mcp.Prompt {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.prompts
}

// activeSession returns the live session or ErrNotStarted.
func (p *ProxiedServer) activeSession() (outbound.BackendSession, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != upstream.StateActive || p.session == nil {
		return nil, fmt.Errorf("%w: server %q is %s", ErrNotStarted, p.desc.Name, p.state)
	}
	return p.session, nil
}

// CallTool forwards a tool call through the request pipeline, invokes
// the backend, and passes the result through the response pipeline.
func (p *ProxiedServer) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	session, err := p.activeSession()
	if err != nil {
		return nil, err
	}

	env := &pipeline.RequestEnvelope{
		RequestID:  uuid.NewString(),
		Server:     p.desc.Name,
		Kind:       capability.KindTool,
		Capability: name,
		Arguments:  args,
	}
	env, err = p.runner.RunRequest(ctx, env)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	result, err := session.CallTool(callCtx, name, env.Arguments)
	if err != nil {
		return nil, err
	}

	resp := p.runner.RunResponse(ctx, &pipeline.ResponseEnvelope{
		RequestID:  env.RequestID,
		Server:     env.Server,
		Kind:       env.Kind,
		Capability: env.Capability,
		Arguments:  env.Arguments,
		Payload:    result,
	})
	if out, ok := resp.Payload.(*mcp.CallToolResult); ok {
		return out, nil
	}
	return result, nil
}

// GetPrompt forwards a prompt render through the request pipeline,
// invokes the backend, and passes the result through the response
// pipeline.
func (p *ProxiedServer) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	session, err := p.activeSession()
	if err != nil {
		return nil, err
	}

	env := &pipeline.RequestEnvelope{
		RequestID:  uuid.NewString(),
		Server:     p.desc.Name,
		Kind:       capability.KindPrompt,
		Capability: name,
		Arguments:  promptArgsToAny(args),
	}
	env, err = p.runner.RunRequest(ctx, env)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	result, err := session.GetPrompt(callCtx, name, promptArgsToString(env.Arguments))
	if err != nil {
		return nil, err
	}

	resp := p.runner.RunResponse(ctx, &pipeline.ResponseEnvelope{
		RequestID:  env.RequestID,
		Server:     env.Server,
		Kind:       env.Kind,
		Capability: env.Capability,
		Arguments:  env.Arguments,
		Payload:    result,
	})
	if out, ok := resp.Payload.(*mcp.GetPromptResult); ok {
		return out, nil
	}
	return result, nil
}

// ReadResource reads a resource by URI. Resource reads carry no caller
// arguments, so only the response pipeline applies.
func (p *ProxiedServer) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	session, err := p.activeSession()
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	result, err := session.ReadResource(callCtx, uri)
	if err != nil {
		return nil, err
	}

	resp := p.runner.RunResponse(ctx, &pipeline.ResponseEnvelope{
		RequestID:  uuid.NewString(),
		Server:     p.desc.Name,
		Kind:       capability.KindResource,
		Capability: uri,
		Payload:    result,
	})
	if out, ok := resp.Payload.(*mcp.ReadResourceResult); ok {
		return out, nil
	}
	return result, nil
}

func promptArgsToAny(args map[string]string) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

func promptArgsToString(args map[string]any) map[string]string {
	if args == nil {
		return nil
	}
	out := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
