package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaygate/relaygate/internal/domain/pipeline"
	"github.com/relaygate/relaygate/internal/domain/upstream"
	"github.com/relaygate/relaygate/internal/port/outbound"
)

// Gateway bundles the manager and projector behind a single startup
// and shutdown surface for the inbound adapter.
type Gateway struct {
	Manager   *ServerManager
	Projector *Projector
	logger    *slog.Logger
}

// NewGateway wires a gateway for the given descriptors and pipeline.
func NewGateway(descriptors []*upstream.Descriptor, factory outbound.SessionFactory, runner *pipeline.Runner, callTimeout time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	manager := NewServerManager(descriptors, factory, runner, callTimeout, logger)
	return &Gateway{
		Manager:   manager,
		Projector: NewProjector(manager, logger),
		logger:    logger,
	}
}

// Startup launches every configured server and builds the capability
// projection from the survivors. Individual launch failures are
// recorded, not returned.
func (g *Gateway) Startup(ctx context.Context) error {
	if err := g.Manager.StartAll(ctx); err != nil {
		return err
	}
	g.Projector.Rebuild()
	return nil
}

// Shutdown stops every server that ever became active.
func (g *Gateway) Shutdown() error {
	return g.Manager.StopAll()
}

// Metadata returns the current status report.
func (g *Gateway) Metadata() *MetadataReport {
	return BuildMetadata(g.Manager, g.Projector)
}
