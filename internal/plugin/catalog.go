// Package plugin holds the static catalog of built-in pipeline plugins.
package plugin

import (
	"github.com/relaygate/relaygate/internal/domain/pipeline"
	"github.com/relaygate/relaygate/internal/plugin/guardrail"
	"github.com/relaygate/relaygate/internal/plugin/tracing"
)

// Catalog returns the built-in plugin registrations. Configuration
// enables plugins by these names.
func Catalog() []pipeline.Registration {
	return []pipeline.Registration{
		{Name: guardrail.BasicName, Factory: guardrail.NewBasic},
		{Name: guardrail.CELName, Factory: guardrail.NewCEL},
		{Name: tracing.LogName, Factory: tracing.NewLog},
		{Name: tracing.MetricsName, Factory: tracing.NewMetrics},
	}
}
