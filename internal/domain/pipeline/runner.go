package pipeline

import (
	"context"
	"errors"
	"log/slog"
)

// Runner executes the configured plugins against request and response
// envelopes. Plugin failures are contained: a tracing error or a
// guardrail runtime error is logged and the call proceeds. Only an
// explicit BlockError stops a request.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRunner creates a Runner over the given registry.
func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, logger: logger}
}

// RunRequest passes the envelope through the request pipeline. Tracing
// plugins observe the pre-guardrail envelope first; each receives its
// own copy so a misbehaving observer cannot mutate the in-flight
// request. Guardrails then run in configured order, each receiving the
// previous guardrail's output. A BlockError stops the chain and is
// returned to the caller; any other guardrail error is logged and the
// guardrail's output is discarded.
func (r *Runner) RunRequest(ctx context.Context, env *RequestEnvelope) (*RequestEnvelope, error) {
	for _, p := range r.registry.Enabled(TagTracing) {
		if _, err := p.OnRequest(ctx, env.Clone()); err != nil {
			r.logger.Warn("tracing plugin failed on request",
				"plugin", p.Name(),
				"request_id", env.RequestID,
				"error", err)
		}
	}

	current := env
	for _, p := range r.registry.Enabled(TagGuardrail) {
		next, err := p.OnRequest(ctx, current)
		if err != nil {
			if errors.Is(err, ErrPolicyBlocked) {
				r.logger.Info("request blocked by guardrail",
					"plugin", p.Name(),
					"request_id", env.RequestID,
					"server", env.Server,
					"capability", env.Capability)
				r.notifyBlocked(ctx, env, p.Name(), err)
				return nil, err
			}
			r.logger.Warn("guardrail plugin failed on request, continuing",
				"plugin", p.Name(),
				"request_id", env.RequestID,
				"error", err)
			continue
		}
		if next != nil {
			current = next
		}
	}

	return current, nil
}

// notifyBlocked tells tracing plugins that implement BlockObserver
// about a rejected request. The response pipeline never runs for a
// blocked call, so this is the only signal a tracer gets.
func (r *Runner) notifyBlocked(ctx context.Context, env *RequestEnvelope, plugin string, err error) {
	var blockErr *BlockError
	if !errors.As(err, &blockErr) {
		blockErr = &BlockError{Plugin: plugin, Reason: err.Error()}
	}
	for _, p := range r.registry.Enabled(TagTracing) {
		if obs, ok := p.(BlockObserver); ok {
			obs.OnBlocked(ctx, env.Clone(), blockErr)
		}
	}
}

// RunResponse passes the envelope through the response pipeline.
// Guardrails run first in configured order and may transform the
// payload; blocking is not available here and a BlockError from
// OnResponse is treated as an ordinary plugin failure. Tracing plugins
// then observe the final sanitized envelope.
func (r *Runner) RunResponse(ctx context.Context, env *ResponseEnvelope) *ResponseEnvelope {
	current := env
	for _, p := range r.registry.Enabled(TagGuardrail) {
		next, err := p.OnResponse(ctx, current)
		if err != nil {
			r.logger.Warn("guardrail plugin failed on response, continuing",
				"plugin", p.Name(),
				"request_id", env.RequestID,
				"error", err)
			continue
		}
		if next != nil {
			current = next
		}
	}

	for _, p := range r.registry.Enabled(TagTracing) {
		if _, err := p.OnResponse(ctx, current.Clone()); err != nil {
			r.logger.Warn("tracing plugin failed on response",
				"plugin", p.Name(),
				"request_id", env.RequestID,
				"error", err)
		}
	}

	return current
}
