package tracing

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaygate/relaygate/internal/domain/pipeline"
)

// MetricsName is the catalog name of the Prometheus tracer.
const MetricsName = "metrics"

// Metrics counts requests and responses per server and capability
// kind. Capability names are deliberately left off the labels to keep
// cardinality bounded by configuration.
type Metrics struct {
	requests  *prometheus.CounterVec
	blocked   *prometheus.CounterVec
	responses *prometheus.CounterVec
}

var (
	_ pipeline.Plugin        = (*Metrics)(nil)
	_ pipeline.BlockObserver = (*Metrics)(nil)
)

// NewMetrics builds the plugin against the default registerer.
func NewMetrics(logger *slog.Logger, settings map[string]any) (pipeline.Plugin, error) {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer builds the plugin against a specific
// registerer. Tests use a fresh registry per case.
func NewMetricsWithRegisterer(reg prometheus.Registerer) (pipeline.Plugin, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaygate",
			Name:      "requests_total",
			Help:      "Capability requests observed by the pipeline.",
		}, []string{"server", "kind"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaygate",
			Name:      "blocked_total",
			Help:      "Capability requests rejected by a guardrail.",
		}, []string{"server", "kind", "plugin"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaygate",
			Name:      "responses_total",
			Help:      "Capability responses observed by the pipeline.",
		}, []string{"server", "kind", "outcome"}),
	}
	if err := reg.Register(m.requests); err != nil {
		return nil, err
	}
	if err := reg.Register(m.blocked); err != nil {
		return nil, err
	}
	if err := reg.Register(m.responses); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) Name() string      { return MetricsName }
func (m *Metrics) Tag() pipeline.Tag { return pipeline.TagTracing }

func (m *Metrics) OnRequest(ctx context.Context, env *pipeline.RequestEnvelope) (*pipeline.RequestEnvelope, error) {
	m.requests.WithLabelValues(env.Server, env.Kind.String()).Inc()
	return env, nil
}

func (m *Metrics) OnBlocked(ctx context.Context, env *pipeline.RequestEnvelope, block *pipeline.BlockError) {
	m.blocked.WithLabelValues(env.Server, env.Kind.String(), block.Plugin).Inc()
}

func (m *Metrics) OnResponse(ctx context.Context, env *pipeline.ResponseEnvelope) (*pipeline.ResponseEnvelope, error) {
	outcome := "ok"
	if result, ok := env.Payload.(*mcp.CallToolResult); ok && result.IsError {
		outcome = "error"
	}
	m.responses.WithLabelValues(env.Server, env.Kind.String(), outcome).Inc()
	return env, nil
}
