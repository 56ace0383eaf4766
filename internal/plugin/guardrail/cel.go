package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	"github.com/relaygate/relaygate/internal/domain/pipeline"
)

// CELName is the catalog name of the CEL expression guardrail.
const CELName = "cel"

const (
	// maxExpressionLength caps configured expressions.
	maxExpressionLength = 1024
	// maxCostBudget is the CEL runtime cost limit.
	maxCostBudget = 100_000
	// interruptCheckFreq is how often (in comprehension iterations)
	// context cancellation is checked.
	interruptCheckFreq = 100
	// evalTimeout bounds a single expression evaluation.
	evalTimeout = 5 * time.Second
	// defaultCacheSize bounds the decision cache.
	defaultCacheSize = 1024
)

// CEL evaluates a configured boolean expression against each request.
// The expression sees the variables server, capability, kind, and args;
// a false result blocks the call. Decisions are cached per request
// shape in a bounded LRU.
type CEL struct {
	expression string
	program    cel.Program
	cache      *decisionCache
	logger     *slog.Logger
}

var _ pipeline.Plugin = (*CEL)(nil)

// NewCEL compiles the plugin's expression at startup. Recognized
// settings: expression (required) and cache_size.
func NewCEL(logger *slog.Logger, settings map[string]any) (pipeline.Plugin, error) {
	raw, ok := settings["expression"]
	if !ok {
		return nil, fmt.Errorf("setting %q is required", "expression")
	}
	expression, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("setting %q must be a string, got %T", "expression", raw)
	}
	if expression == "" {
		return nil, fmt.Errorf("setting %q is empty", "expression")
	}
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}

	cacheSize := defaultCacheSize
	if raw, ok := settings["cache_size"]; ok {
		switch v := raw.(type) {
		case int:
			cacheSize = v
		case float64:
			cacheSize = int(v)
		default:
			return nil, fmt.Errorf("setting %q must be an integer, got %T", "cache_size", raw)
		}
		if cacheSize <= 0 {
			return nil, fmt.Errorf("setting %q must be positive", "cache_size")
		}
	}

	env, err := cel.NewEnv(
		cel.Variable("server", cel.StringType),
		cel.Variable("capability", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling expression: %w", issues.Err())
	}
	program, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("building program: %w", err)
	}

	return &CEL{
		expression: expression,
		program:    program,
		cache:      newDecisionCache(cacheSize),
		logger:     logger,
	}, nil
}

func (c *CEL) Name() string      { return CELName }
func (c *CEL) Tag() pipeline.Tag { return pipeline.TagGuardrail }

// OnRequest evaluates the expression. An evaluation error is returned
// as-is so the pipeline's fail-open handling applies; only an explicit
// false result blocks.
func (c *CEL) OnRequest(ctx context.Context, env *pipeline.RequestEnvelope) (*pipeline.RequestEnvelope, error) {
	key, cacheable := cacheKey(env)
	if cacheable {
		if allowed, hit := c.cache.get(key); hit {
			if !allowed {
				return nil, pipeline.Block(CELName, "request denied by policy expression")
			}
			return env, nil
		}
	}

	allowed, err := c.evaluate(ctx, env)
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.cache.put(key, allowed)
	}
	if !allowed {
		c.logger.Debug("expression denied request",
			"server", env.Server,
			"capability", env.Capability)
		return nil, pipeline.Block(CELName, "request denied by policy expression")
	}
	return env, nil
}

// OnResponse is a no-op: the expression only gates requests.
func (c *CEL) OnResponse(ctx context.Context, env *pipeline.ResponseEnvelope) (*pipeline.ResponseEnvelope, error) {
	return env, nil
}

func (c *CEL) evaluate(ctx context.Context, env *pipeline.RequestEnvelope) (bool, error) {
	args := env.Arguments
	if args == nil {
		args = map[string]any{}
	}
	activation := map[string]any{
		"server":     env.Server,
		"capability": env.Capability,
		"kind":       env.Kind.String(),
		"args":       args,
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := c.program.ContextEval(evalCtx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluating expression: %w", err)
	}
	allowed, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return allowed, nil
}

// cacheKey hashes the request shape. Arguments are serialized through
// encoding/json, which sorts map keys, so equal maps hash equally.
// Unserializable arguments make the request uncacheable.
func cacheKey(env *pipeline.RequestEnvelope) (uint64, bool) {
	h := xxhash.New()
	_, _ = h.WriteString(env.Server)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(env.Capability)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(env.Kind.String())
	_, _ = h.Write([]byte{0})
	if env.Arguments != nil {
		encoded, err := json.Marshal(env.Arguments)
		if err != nil {
			return 0, false
		}
		_, _ = h.Write(encoded)
	}
	return h.Sum64(), true
}

// lruEntry is a doubly-linked list node for the decision cache.
type lruEntry struct {
	key     uint64
	allowed bool
	prev    *lruEntry
	next    *lruEntry
}

// decisionCache is a bounded LRU over expression decisions. Both get
// and put mutate recency order, so a plain Mutex guards everything.
type decisionCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry
	tail    *lruEntry
	maxSize int
}

func newDecisionCache(maxSize int) *decisionCache {
	return &decisionCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

func (c *decisionCache) get(key uint64) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.allowed, true
	}
	return false, false
}

func (c *decisionCache) put(key uint64, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.allowed = allowed
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, allowed: allowed}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

func (c *decisionCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *decisionCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *decisionCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *decisionCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *decisionCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}
