// Package guardrail implements the built-in guardrail plugins.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/relaygate/relaygate/internal/domain/pipeline"
)

// BasicName is the catalog name of the pattern guardrail.
const BasicName = "basic"

// redactedPlaceholder replaces matched substrings in response text.
const redactedPlaceholder = "[redacted]"

// Basic is a substring-pattern guardrail. Request arguments containing
// a blocked pattern stop the call; redact patterns are scrubbed from
// text content on the response path.
type Basic struct {
	blocked []string
	redact  []string
	logger  *slog.Logger
}

var _ pipeline.Plugin = (*Basic)(nil)

// NewBasic builds the plugin from its settings. Recognized keys:
// block_patterns and redact_patterns, both lists of strings matched
// case-insensitively.
func NewBasic(logger *slog.Logger, settings map[string]any) (pipeline.Plugin, error) {
	blocked, err := stringList(settings, "block_patterns")
	if err != nil {
		return nil, err
	}
	redact, err := stringList(settings, "redact_patterns")
	if err != nil {
		return nil, err
	}
	return &Basic{
		blocked: lowerAll(blocked),
		redact:  lowerAll(redact),
		logger:  logger,
	}, nil
}

func stringList(settings map[string]any, key string) ([]string, error) {
	raw, ok := settings[key]
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		// Config decoding may already yield []string.
		if typed, ok := raw.([]string); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("setting %q must be a list of strings, got %T", key, raw)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("setting %q must be a list of strings, got element %T", key, item)
		}
		out = append(out, s)
	}
	return out, nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func (b *Basic) Name() string      { return BasicName }
func (b *Basic) Tag() pipeline.Tag { return pipeline.TagGuardrail }

// OnRequest blocks the call when any string argument contains a
// blocked pattern. Non-string arguments are inspected one level deep.
func (b *Basic) OnRequest(ctx context.Context, env *pipeline.RequestEnvelope) (*pipeline.RequestEnvelope, error) {
	if len(b.blocked) == 0 {
		return env, nil
	}
	for key, value := range env.Arguments {
		for _, text := range stringValues(value) {
			lowered := strings.ToLower(text)
			for _, pattern := range b.blocked {
				if strings.Contains(lowered, pattern) {
					b.logger.Info("blocking request on pattern match",
						"argument", key,
						"server", env.Server,
						"capability", env.Capability)
					return nil, pipeline.Block(BasicName, fmt.Sprintf("argument %q matches a blocked pattern", key))
				}
			}
		}
	}
	return env, nil
}

// OnResponse scrubs redact patterns from text content in tool results
// and resource contents. Other payload types pass through unchanged.
func (b *Basic) OnResponse(ctx context.Context, env *pipeline.ResponseEnvelope) (*pipeline.ResponseEnvelope, error) {
	if len(b.redact) == 0 {
		return env, nil
	}
	switch payload := env.Payload.(type) {
	case *mcp.CallToolResult:
		for _, content := range payload.Content {
			if text, ok := content.(*mcp.TextContent); ok {
				text.Text = b.scrub(text.Text)
			}
		}
	case *mcp.ReadResourceResult:
		for _, contents := range payload.Contents {
			contents.Text = b.scrub(contents.Text)
		}
	case *mcp.GetPromptResult:
		for _, msg := range payload.Messages {
			if text, ok := msg.Content.(*mcp.TextContent); ok {
				text.Text = b.scrub(text.Text)
			}
		}
	}
	return env, nil
}

// scrub replaces each redact pattern case-insensitively. Replacement
// scans forward so a pattern overlapping the placeholder cannot loop.
func (b *Basic) scrub(text string) string {
	for _, pattern := range b.redact {
		var sb strings.Builder
		rest := text
		for {
			idx := strings.Index(strings.ToLower(rest), pattern)
			if idx < 0 {
				sb.WriteString(rest)
				break
			}
			sb.WriteString(rest[:idx])
			sb.WriteString(redactedPlaceholder)
			rest = rest[idx+len(pattern):]
		}
		text = sb.String()
	}
	return text
}

// stringValues extracts the string values reachable one level into the
// argument: the value itself, list elements, and map values.
func stringValues(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
