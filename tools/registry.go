// Package tools resolves tool names to invocable implementations.
//
// Every tool, whether an in-process function or a remote HTTP endpoint,
// shares one call contract: JSON arguments in, JSON output or an error
// out. The registry adds a per-call timeout and panic isolation so one
// faulty tool cannot take the stream down with it.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vercel/ai-chatbot-sub000/log"
	"github.com/vercel/ai-chatbot-sub000/metrics"
	"github.com/vercel/ai-chatbot-sub000/provider"
)

// DefaultCallTimeout bounds a single tool invocation.
const DefaultCallTimeout = 30 * time.Second

// ErrUnknownTool is returned when the model calls a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is one callable tool.
type Tool interface {
	// Definition describes the tool to the model.
	Definition() provider.ToolDefinition
	// Call runs the tool. args is a JSON object.
	Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Options configures a Registry.
type Options struct {
	// CallTimeout bounds each invocation (default 30s).
	CallTimeout time.Duration
	Logger      *log.Logger
	Collector   *metrics.Collector
}

// Registry maps tool names to tools. Safe for concurrent use.
type Registry struct {
	timeout   time.Duration
	logger    *log.Logger
	collector *metrics.Collector

	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	return &Registry{
		timeout:   opts.CallTimeout,
		logger:    opts.Logger.WithComponent("tools"),
		collector: opts.Collector,
		tools:     make(map[string]Tool),
	}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	if name == "" {
		return errors.New("tools: tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tools: %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Definitions returns every tool definition in registration order.
func (r *Registry) Definitions() []provider.ToolDefinition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]provider.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke calls the named tool with a bounded context. A panic in the tool
// is recovered and returned as an error.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (out json.RawMessage, err error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	r.mu.RLock()
	t := r.tools[name]
	r.mu.RUnlock()
	if t == nil {
		r.collector.IncToolCallFailure()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, p)
		}
		fields := map[string]any{
			"tool":        name,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if err != nil {
			r.collector.IncToolCallFailure()
			fields["error"] = err.Error()
			r.logger.Warn("tool call failed", fields)
			return
		}
		r.collector.IncToolCallSuccess()
		r.logger.Debug("tool call succeeded", fields)
	}()

	return t.Call(callCtx, args)
}

// Func adapts a Go function into a Tool. The function's result is
// marshalled to JSON.
type Func struct {
	Def provider.ToolDefinition
	Fn  func(ctx context.Context, args json.RawMessage) (any, error)
}

// Definition implements Tool.
func (f Func) Definition() provider.ToolDefinition { return f.Def }

// Call implements Tool.
func (f Func) Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	v, err := f.Fn(ctx, args)
	if err != nil {
		return nil, err
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("tool %s: marshal output: %w", f.Def.Name, err)
	}
	return out, nil
}

// Verify Func implements Tool.
var _ Tool = Func{}
