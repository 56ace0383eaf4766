// Package pipeline defines the plugin contract for request and response
// processing and the runner that executes configured plugins in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relaygate/relaygate/internal/domain/capability"
)

// Tag classifies a plugin's role in the pipeline. The runner treats the
// two tags differently: guardrail output is propagated, tracing output
// is discarded.
type Tag string

const (
	// TagGuardrail marks plugins whose output replaces the in-flight
	// envelope and which may block a request.
	TagGuardrail Tag = "guardrail"
	// TagTracing marks observe-only plugins. Their return values are
	// ignored and their errors never affect the call.
	TagTracing Tag = "tracing"
)

// RequestEnvelope carries an inbound capability invocation through the
// request pipeline before it is forwarded to a backend server.
type RequestEnvelope struct {
	// RequestID uniquely identifies this invocation across both
	// pipeline passes.
	RequestID string
	// Server is the name of the backend server the call targets.
	Server string
	// Kind is the capability kind being invoked.
	Kind capability.Kind
	// Capability is the backend-local capability name (no server prefix).
	Capability string
	// Arguments holds the caller-supplied arguments. Guardrails may
	// replace or redact entries.
	Arguments map[string]any
}

// ResponseEnvelope carries a backend result through the response
// pipeline before it is returned to the caller.
type ResponseEnvelope struct {
	RequestID  string
	Server     string
	Kind       capability.Kind
	Capability string
	// Arguments are the (post-guardrail) request arguments, carried for
	// plugin correlation.
	Arguments map[string]any
	// Payload is the backend result. The concrete type depends on Kind:
	// *mcp.CallToolResult for tools, *mcp.GetPromptResult for prompts,
	// *mcp.ReadResourceResult for resources.
	Payload any
}

// Clone returns a shallow copy of the envelope with a deep-copied
// Arguments map. Payload values are shared.
func (e *ResponseEnvelope) Clone() *ResponseEnvelope {
	c := *e
	c.Arguments = cloneArgs(e.Arguments)
	return &c
}

// Clone returns a copy of the envelope with a deep-copied top-level
// Arguments map. Nested values are shared.
func (e *RequestEnvelope) Clone() *RequestEnvelope {
	c := *e
	c.Arguments = cloneArgs(e.Arguments)
	return &c
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// Plugin processes requests and responses flowing through the gateway.
// Implementations must be safe for concurrent use: the runner invokes a
// single instance from multiple in-flight calls.
type Plugin interface {
	// Name returns the unique plugin name used in configuration.
	Name() string
	// Tag returns the plugin's pipeline role.
	Tag() Tag
	// OnRequest processes a request envelope. Guardrails return the
	// envelope to forward, or a BlockError to reject the call. Tracing
	// plugins observe only; their return values are discarded.
	OnRequest(ctx context.Context, env *RequestEnvelope) (*RequestEnvelope, error)
	// OnResponse processes a response envelope. Guardrails return the
	// envelope to deliver; blocking is not available on the response
	// path. Tracing plugins observe only.
	OnResponse(ctx context.Context, env *ResponseEnvelope) (*ResponseEnvelope, error)
}

// BlockObserver is an optional interface for tracing plugins. A blocked
// request never reaches the response pipeline, so the runner notifies
// observers through this hook instead. Envelope copies follow the same
// isolation rules as OnRequest.
type BlockObserver interface {
	OnBlocked(ctx context.Context, env *RequestEnvelope, block *BlockError)
}

// ErrPolicyBlocked is the sentinel wrapped by every BlockError. Callers
// use errors.Is(err, ErrPolicyBlocked) to distinguish a deliberate
// guardrail rejection from a plugin failure.
var ErrPolicyBlocked = errors.New("blocked by guardrail policy")

// BlockError is returned by a guardrail's OnRequest to reject a call.
type BlockError struct {
	// Plugin is the name of the guardrail that issued the block.
	Plugin string
	// Reason is a human-readable explanation returned to the caller.
	Reason string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("%s: %s (plugin %s)", ErrPolicyBlocked, e.Reason, e.Plugin)
}

// Unwrap makes errors.Is(err, ErrPolicyBlocked) succeed.
func (e *BlockError) Unwrap() error {
	return ErrPolicyBlocked
}

// Block constructs a BlockError for the named plugin.
func Block(plugin, reason string) error {
	return &BlockError{Plugin: plugin, Reason: reason}
}

// Factory constructs a plugin from its configured settings.
type Factory func(logger *slog.Logger, settings map[string]any) (Plugin, error)

// Registration pairs a plugin name with its factory for catalog lookup.
type Registration struct {
	Name    string
	Factory Factory
}
