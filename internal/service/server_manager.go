package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/relaygate/relaygate/internal/domain/pipeline"
	"github.com/relaygate/relaygate/internal/domain/upstream"
	"github.com/relaygate/relaygate/internal/port/outbound"
)

// startAllTimeout bounds the concurrent startup fan-out.
const startAllTimeout = 30 * time.Second

// ServerManager starts and stops the configured backend servers. One
// server failing to start never affects the others: the manager keeps
// the survivors and records the failures for the status surface.
type ServerManager struct {
	factory     outbound.SessionFactory
	runner      *pipeline.Runner
	callTimeout time.Duration
	logger      *slog.Logger

	mu          sync.RWMutex
	descriptors map[string]*upstream.Descriptor
	servers     map[string]*ProxiedServer
	failures    map[string]*LaunchError
}

// NewServerManager creates a manager for the given descriptors.
// Descriptors are retained even for servers that later fail to start,
// so status reporting covers the full configuration.
func NewServerManager(descriptors []*upstream.Descriptor, factory outbound.SessionFactory, runner *pipeline.Runner, callTimeout time.Duration, logger *slog.Logger) *ServerManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &ServerManager{
		factory:     factory,
		runner:      runner,
		callTimeout: callTimeout,
		logger:      logger,
		descriptors: make(map[string]*upstream.Descriptor, len(descriptors)),
		servers:     make(map[string]*ProxiedServer),
		failures:    make(map[string]*LaunchError),
	}
	for _, d := range descriptors {
		m.descriptors[d.Name] = d.Clone()
	}
	return m
}

// StartAll launches every configured server concurrently and waits for
// all attempts to settle. Failures are logged and recorded, never
// propagated: the returned error is non-nil only when the fan-out
// itself times out or the context is canceled, and then any server
// that finishes starting afterwards is stopped. The live server map is
// mutated only after the fan-in, so concurrent readers never observe a
// half-started set.
func (m *ServerManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	descs := make([]*upstream.Descriptor, 0, len(m.descriptors))
	for _, d := range m.descriptors {
		descs = append(descs, d)
	}
	m.mu.RUnlock()

	type startResult struct {
		server *ProxiedServer
		err    *LaunchError
	}

	results := make(chan startResult, len(descs))
	var wg sync.WaitGroup
	for _, d := range descs {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv := NewProxiedServer(d, m.factory, m.runner, m.callTimeout, m.logger)
			if err := srv.Start(ctx); err != nil {
				var launchErr *LaunchError
				if !errors.As(err, &launchErr) {
					launchErr = &LaunchError{Server: d.Name, Err: err}
				}
				m.logger.Error("server failed to start", "server", d.Name, "error", launchErr.Err)
				results <- startResult{err: launchErr}
				return
			}
			results <- startResult{server: srv}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// Abandoning the fan-out must not orphan a backend that finishes
	// starting afterwards. The reaper waits out the remaining attempts
	// and tears down any that made it up.
	reap := func() {
		<-done
		close(results)
		for res := range results {
			if res.server == nil {
				continue
			}
			m.logger.Warn("stopping server started after abandoned fan-out",
				"server", res.server.Name())
			if err := res.server.Stop(); err != nil {
				m.logger.Error("failed to stop server",
					"server", res.server.Name(), "error", err)
			}
		}
	}

	select {
	case <-done:
	case <-time.After(startAllTimeout):
		go reap()
		return errors.New("timeout waiting for servers to start")
	case <-ctx.Done():
		go reap()
		return ctx.Err()
	}
	close(results)

	servers := make(map[string]*ProxiedServer)
	failures := make(map[string]*LaunchError)
	for res := range results {
		if res.err != nil {
			failures[res.err.Server] = res.err
			continue
		}
		servers[res.server.Name()] = res.server
	}

	m.mu.Lock()
	m.servers = servers
	m.failures = failures
	m.mu.Unlock()

	m.logger.Info("startup complete",
		"active", len(servers),
		"failed", len(failures),
		"configured", len(descs))
	return nil
}

// StopAll stops every server that ever became active, concurrently.
// Servers that never started are skipped. Stop errors are logged and
// collected; one server's failing teardown never prevents another's.
func (m *ServerManager) StopAll() error {
	m.mu.Lock()
	servers := m.servers
	m.servers = make(map[string]*ProxiedServer)
	m.mu.Unlock()

	errCh := make(chan error, len(servers))
	var wg sync.WaitGroup
	for name, srv := range servers {
		if !srv.EverActive() {
			continue
		}
		name, srv := name, srv
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Stop(); err != nil {
				m.logger.Error("failed to stop server", "server", name, "error", err)
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Server returns the named server if it started successfully.
func (m *ServerManager) Server(name string) (*ProxiedServer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	srv, ok := m.servers[name]
	return srv, ok
}

// Active returns the successfully started servers sorted by name.
func (m *ServerManager) Active() []*ProxiedServer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ProxiedServer, 0, len(m.servers))
	for _, srv := range m.servers {
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ConfiguredNames returns every configured server name sorted, whether
// or not the server started.
func (m *ServerManager) ConfiguredNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.descriptors))
	for name := range m.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failure returns the recorded launch error for a server, if any.
func (m *ServerManager) Failure(name string) (*LaunchError, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	err, ok := m.failures[name]
	return err, ok
}
