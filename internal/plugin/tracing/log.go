// Package tracing implements the built-in observe-only plugins.
package tracing

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/relaygate/relaygate/internal/domain/pipeline"
)

// LogName is the catalog name of the structured-log tracer.
const LogName = "log"

// Log emits one structured log record per request and per response.
type Log struct {
	logger *slog.Logger
}

var _ pipeline.Plugin = (*Log)(nil)

// NewLog builds the plugin. It takes no settings.
func NewLog(logger *slog.Logger, settings map[string]any) (pipeline.Plugin, error) {
	return &Log{logger: logger}, nil
}

func (l *Log) Name() string      { return LogName }
func (l *Log) Tag() pipeline.Tag { return pipeline.TagTracing }

func (l *Log) OnRequest(ctx context.Context, env *pipeline.RequestEnvelope) (*pipeline.RequestEnvelope, error) {
	l.logger.Info("request",
		"request_id", env.RequestID,
		"server", env.Server,
		"kind", env.Kind.String(),
		"capability", env.Capability,
		"arguments", len(env.Arguments))
	return env, nil
}

func (l *Log) OnResponse(ctx context.Context, env *pipeline.ResponseEnvelope) (*pipeline.ResponseEnvelope, error) {
	attrs := []any{
		"request_id", env.RequestID,
		"server", env.Server,
		"kind", env.Kind.String(),
		"capability", env.Capability,
	}
	if result, ok := env.Payload.(*mcp.CallToolResult); ok {
		attrs = append(attrs, "is_error", result.IsError)
	}
	l.logger.Info("response", attrs...)
	return env, nil
}
