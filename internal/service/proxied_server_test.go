package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/relaygate/relaygate/internal/domain/capability"
	"github.com/relaygate/relaygate/internal/domain/pipeline"
	"github.com/relaygate/relaygate/internal/domain/upstream"
	"github.com/relaygate/relaygate/internal/port/outbound"
)

func TestProxiedServerStartSuccess(t *testing.T) {
	session := &mockSession{
		tools:     []*mcp.Tool{textTool("echo", "echoes input")},
		resources: []*mcp.Resource{{URI: "file:///data.txt", Name: "data"}},
		prompts:   []*mcp.Prompt{{Name: "greet"}},
	}
	factory := sessionFactory(map[string]*mockSession{"alpha": session}, nil)
	srv := NewProxiedServer(descriptor("alpha"), factory, emptyRunner(discardLogger()), 0, discardLogger())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := srv.State(); got != upstream.StateActive {
		t.Errorf("state = %s, want active", got)
	}
	if !srv.EverActive() {
		t.Error("EverActive = false after successful start")
	}
	if len(srv.Tools()) != 1 || len(srv.Resources()) != 1 || len(srv.Prompts()) != 1 {
		t.Errorf("capability snapshot = %d/%d/%d, want 1/1/1",
			len(srv.Tools()), len(srv.Resources()), len(srv.Prompts()))
	}
}

func TestProxiedServerStartFactoryFailure(t *testing.T) {
	factory := sessionFactory(nil, map[string]bool{"alpha": true})
	srv := NewProxiedServer(descriptor("alpha"), factory, emptyRunner(discardLogger()), 0, discardLogger())

	err := srv.Start(context.Background())
	if err == nil {
		t.Fatal("expected launch error")
	}
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("err = %T, want *LaunchError", err)
	}
	if launchErr.Server != "alpha" {
		t.Errorf("launch error server = %q", launchErr.Server)
	}
	if got := srv.State(); got != upstream.StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
	if srv.EverActive() {
		t.Error("EverActive = true for a server that never started")
	}
}

func TestProxiedServerStartTwice(t *testing.T) {
	session := &mockSession{}
	factory := sessionFactory(map[string]*mockSession{"alpha": session}, nil)
	srv := NewProxiedServer(descriptor("alpha"), factory, emptyRunner(discardLogger()), 0, discardLogger())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := srv.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestProxiedServerRestartAfterStop(t *testing.T) {
	session := &mockSession{tools: []*mcp.Tool{textTool("echo", "")}}
	factory := sessionFactory(map[string]*mockSession{"alpha": session}, nil)
	srv := NewProxiedServer(descriptor("alpha"), factory, emptyRunner(discardLogger()), 0, discardLogger())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(srv.Tools()) != 0 {
		t.Error("capability snapshot not cleared on Stop")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
	if got := srv.State(); got != upstream.StateActive {
		t.Errorf("state after restart = %s, want active", got)
	}
	if len(srv.Tools()) != 1 {
		t.Errorf("tools after restart = %d, want 1", len(srv.Tools()))
	}
}

func TestProxiedServerCapabilityFetchDegrades(t *testing.T) {
	session := &mockSession{
		tools:          []*mcp.Tool{textTool("echo", "")},
		prompts:        []*mcp.Prompt{{Name: "greet"}},
		listPromptsErr: fmt.Errorf("prompts endpoint broken"),
	}
	factory := sessionFactory(map[string]*mockSession{"alpha": session}, nil)
	srv := NewProxiedServer(descriptor("alpha"), factory, emptyRunner(discardLogger()), 0, discardLogger())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := srv.State(); got != upstream.StateActive {
		t.Errorf("state = %s, want active despite prompt listing failure", got)
	}
	if len(srv.Tools()) != 1 {
		t.Errorf("tools = %d, want 1", len(srv.Tools()))
	}
	if len(srv.Prompts()) != 0 {
		t.Errorf("prompts = %d, want 0 after degraded fetch", len(srv.Prompts()))
	}
}

func TestProxiedServerSkipsUnadvertisedKinds(t *testing.T) {
	session := &mockSession{
		caps:           &mcp.ServerCapabilities{Tools: &mcp.ToolCapabilities{}},
		tools:          []*mcp.Tool{textTool("echo", "")},
		prompts:        []*mcp.Prompt{{Name: "never-listed"}},
		listPromptsErr: fmt.Errorf("should not be called"),
	}
	factory := sessionFactory(map[string]*mockSession{"alpha": session}, nil)
	srv := NewProxiedServer(descriptor("alpha"), factory, emptyRunner(discardLogger()), 0, discardLogger())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(srv.Prompts()) != 0 {
		t.Error("prompts listed for a server that never advertised them")
	}
}

func TestProxiedServerStopReleasesSession(t *testing.T) {
	session := &mockSession{}
	factory := sessionFactory(map[string]*mockSession{"alpha": session}, nil)
	srv := NewProxiedServer(descriptor("alpha"), factory, emptyRunner(discardLogger()), 0, discardLogger())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !session.wasClosed() {
		t.Error("session not closed on Stop")
	}
	if got := srv.State(); got != upstream.StateStopped {
		t.Errorf("state = %s, want stopped", got)
	}

	// Second stop is a no-op.
	if err := srv.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	session.mu.Lock()
	calls := session.closeCalls
	session.mu.Unlock()
	if calls != 1 {
		t.Errorf("close calls = %d, want 1", calls)
	}
}

func TestProxiedServerStopBeforeStart(t *testing.T) {
	srv := NewProxiedServer(descriptor("alpha"), sessionFactory(nil, nil), emptyRunner(discardLogger()), 0, discardLogger())
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop on uninitialized server: %v", err)
	}
	if got := srv.State(); got != upstream.StateStopped {
		t.Errorf("state = %s, want stopped", got)
	}
}

func TestProxiedServerStopDuringCapabilityFetch(t *testing.T) {
	listing := make(chan struct{})
	proceed := make(chan struct{})
	session := &mockSession{}
	session.listTools = func(ctx context.Context) ([]*mcp.Tool, error) {
		close(listing)
		<-proceed
		return []*mcp.Tool{textTool("echo", "")}, nil
	}
	factory := sessionFactory(map[string]*mockSession{"alpha": session}, nil)
	srv := NewProxiedServer(descriptor("alpha"), factory, emptyRunner(discardLogger()), 0, discardLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(context.Background()) }()

	<-listing
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() unexpected error: %v", err)
	}
	close(proceed)

	if err := <-errCh; !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Start() after concurrent Stop = %v, want ErrNotStarted", err)
	}
	if got := srv.State(); got != upstream.StateStopped {
		t.Errorf("state = %v, want %v", got, upstream.StateStopped)
	}
	if !session.wasClosed() {
		t.Error("session left open after concurrent stop")
	}
	if len(srv.Tools()) != 0 {
		t.Errorf("capability snapshot survived stop: %+v", srv.Tools())
	}
}

func TestProxiedServerStopDuringLaunch(t *testing.T) {
	launching := make(chan struct{})
	proceed := make(chan struct{})
	session := &mockSession{}
	factory := func(ctx context.Context, desc *upstream.Descriptor) (outbound.BackendSession, error) {
		close(launching)
		<-proceed
		return session, nil
	}
	srv := NewProxiedServer(descriptor("alpha"), factory, emptyRunner(discardLogger()), 0, discardLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(context.Background()) }()

	<-launching
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() unexpected error: %v", err)
	}
	close(proceed)

	if err := <-errCh; !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Start() after concurrent Stop = %v, want ErrNotStarted", err)
	}
	if got := srv.State(); got != upstream.StateStopped {
		t.Errorf("state = %v, want %v", got, upstream.StateStopped)
	}
	// Stop could not see the session yet, so Start must close it.
	if !session.wasClosed() {
		t.Error("session from abandoned launch left open")
	}
}

func TestProxiedServerCallToolNotStarted(t *testing.T) {
	srv := NewProxiedServer(descriptor("alpha"), sessionFactory(nil, nil), emptyRunner(discardLogger()), 0, discardLogger())
	if _, err := srv.CallTool(context.Background(), "echo", nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

// blockingGuardrail blocks any request whose capability matches.
type blockingGuardrail struct {
	capability string
}

func (g *blockingGuardrail) Name() string      { return "test-blocker" }
func (g *blockingGuardrail) Tag() pipeline.Tag { return pipeline.TagGuardrail }

func (g *blockingGuardrail) OnRequest(ctx context.Context, env *pipeline.RequestEnvelope) (*pipeline.RequestEnvelope, error) {
	if env.Capability == g.capability {
		return nil, pipeline.Block(g.Name(), "forbidden capability")
	}
	return env, nil
}

func (g *blockingGuardrail) OnResponse(ctx context.Context, env *pipeline.ResponseEnvelope) (*pipeline.ResponseEnvelope, error) {
	return env, nil
}

func guardedRunner(t *testing.T, plugin pipeline.Plugin, logger *slog.Logger) *pipeline.Runner {
	t.Helper()
	catalog := []pipeline.Registration{{
		Name: plugin.Name(),
		Factory: func(logger *slog.Logger, settings map[string]any) (pipeline.Plugin, error) {
			return plugin, nil
		},
	}}
	registry, err := pipeline.NewRegistry(catalog, []string{plugin.Name()}, nil, logger)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return pipeline.NewRunner(registry, logger)
}

func TestProxiedServerCallToolBlocked(t *testing.T) {
	session := &mockSession{}
	factory := sessionFactory(map[string]*mockSession{"alpha": session}, nil)
	runner := guardedRunner(t, &blockingGuardrail{capability: "deploy"}, discardLogger())
	srv := NewProxiedServer(descriptor("alpha"), factory, runner, 0, discardLogger())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := srv.CallTool(context.Background(), "deploy", nil); !errors.Is(err, pipeline.ErrPolicyBlocked) {
		t.Fatalf("err = %v, want ErrPolicyBlocked", err)
	}
	session.mu.Lock()
	calls := len(session.toolCalls)
	session.mu.Unlock()
	if calls != 0 {
		t.Error("blocked call still reached the backend")
	}

	// A different capability passes through.
	if _, err := srv.CallTool(context.Background(), "echo", map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("unblocked call: %v", err)
	}
}

func TestProxiedServerGetPromptRunsPipeline(t *testing.T) {
	session := &mockSession{}
	factory := sessionFactory(map[string]*mockSession{"alpha": session}, nil)
	runner := guardedRunner(t, &blockingGuardrail{capability: "forbidden-prompt"}, discardLogger())
	srv := NewProxiedServer(descriptor("alpha"), factory, runner, 0, discardLogger())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := srv.GetPrompt(context.Background(), "forbidden-prompt", nil); !errors.Is(err, pipeline.ErrPolicyBlocked) {
		t.Fatalf("err = %v, want ErrPolicyBlocked", err)
	}

	result, err := srv.GetPrompt(context.Background(), "greet", map[string]string{"name": "ada"})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(result.Messages))
	}
}

func TestProxiedServerReadResource(t *testing.T) {
	session := &mockSession{}
	factory := sessionFactory(map[string]*mockSession{"alpha": session}, nil)
	srv := NewProxiedServer(descriptor("alpha"), factory, emptyRunner(discardLogger()), 0, discardLogger())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err := srv.ReadResource(context.Background(), "file:///data.txt")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(result.Contents) != 1 || result.Contents[0].URI != "file:///data.txt" {
		t.Errorf("unexpected contents: %+v", result.Contents)
	}
}

// Ensure the kind constants used in envelopes survive the round trip.
func TestProxiedServerEnvelopeKinds(t *testing.T) {
	var observedKinds []capability.Kind
	observer := &observerGuardrail{onRequest: func(env *pipeline.RequestEnvelope) {
		observedKinds = append(observedKinds, env.Kind)
	}}
	session := &mockSession{}
	factory := sessionFactory(map[string]*mockSession{"alpha": session}, nil)
	srv := NewProxiedServer(descriptor("alpha"), factory, guardedRunner(t, observer, discardLogger()), 0, discardLogger())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := srv.CallTool(context.Background(), "echo", nil); err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if _, err := srv.GetPrompt(context.Background(), "greet", nil); err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}

	want := []capability.Kind{capability.KindTool, capability.KindPrompt}
	if len(observedKinds) != len(want) {
		t.Fatalf("observed kinds = %v, want %v", observedKinds, want)
	}
	for i := range want {
		if observedKinds[i] != want[i] {
			t.Errorf("kind[%d] = %s, want %s", i, observedKinds[i], want[i])
		}
	}
}

type observerGuardrail struct {
	onRequest func(env *pipeline.RequestEnvelope)
}

func (g *observerGuardrail) Name() string      { return "test-observer" }
func (g *observerGuardrail) Tag() pipeline.Tag { return pipeline.TagGuardrail }

func (g *observerGuardrail) OnRequest(ctx context.Context, env *pipeline.RequestEnvelope) (*pipeline.RequestEnvelope, error) {
	if g.onRequest != nil {
		g.onRequest(env)
	}
	return env, nil
}

func (g *observerGuardrail) OnResponse(ctx context.Context, env *pipeline.ResponseEnvelope) (*pipeline.ResponseEnvelope, error) {
	return env, nil
}
