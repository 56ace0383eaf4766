package pipeline

import (
	"fmt"
	"log/slog"
)

// Registry holds the instantiated plugins in their configured order,
// partitioned by tag. It is built once at startup and read-only after.
type Registry struct {
	guardrails []Plugin
	tracing    []Plugin
	logger     *slog.Logger
}

// NewRegistry instantiates the plugins named in enabled, in order, using
// the given catalog of registrations. Names with no catalog entry are
// logged and skipped rather than failing startup. A factory error for a
// known plugin is fatal: a configured guardrail that cannot start must
// not be silently dropped.
func NewRegistry(catalog []Registration, enabled []string, settings map[string]map[string]any, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]Factory, len(catalog))
	for _, reg := range catalog {
		byName[reg.Name] = reg.Factory
	}

	r := &Registry{logger: logger}
	seen := make(map[string]bool, len(enabled))

	for _, name := range enabled {
		if seen[name] {
			logger.Warn("duplicate plugin in configuration, skipping", "plugin", name)
			continue
		}
		seen[name] = true

		factory, ok := byName[name]
		if !ok {
			logger.Warn("unknown plugin in configuration, skipping", "plugin", name)
			continue
		}

		plugin, err := factory(logger.With("plugin", name), settings[name])
		if err != nil {
			return nil, fmt.Errorf("initializing plugin %q: %w", name, err)
		}

		switch plugin.Tag() {
		case TagGuardrail:
			r.guardrails = append(r.guardrails, plugin)
		case TagTracing:
			r.tracing = append(r.tracing, plugin)
		default:
			return nil, fmt.Errorf("plugin %q has unknown tag %q", name, plugin.Tag())
		}

		logger.Info("plugin enabled", "plugin", name, "tag", string(plugin.Tag()))
	}

	return r, nil
}

// Enabled returns the plugins carrying the given tag, in configured
// order. The returned slice must not be modified.
func (r *Registry) Enabled(tag Tag) []Plugin {
	switch tag {
	case TagGuardrail:
		return r.guardrails
	case TagTracing:
		return r.tracing
	default:
		return nil
	}
}
