package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/quillagent/quill/pkg/models"
)

// DefaultTimeout bounds tool execution when the caller does not pass
// an explicit deadline.
const DefaultTimeout = 30 * time.Second

// RegistryConfig tunes a Registry.
type RegistryConfig struct {
	// DefaultTimeout applies to Execute calls without an explicit
	// timeout. Zero means DefaultTimeout.
	DefaultTimeout time.Duration

	// MaxParallel bounds concurrently executing tools. Zero or one
	// serializes execution.
	MaxParallel int
}

// Registry maps tool names to implementations and dispatches execution
// with argument validation, a concurrency bound, and per-call timeouts.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema

	defaultTimeout time.Duration
	sem            chan struct{}
	logger         *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	return &Registry{
		tools:          make(map[string]Tool),
		schemas:        make(map[string]*jsonschema.Schema),
		defaultTimeout: cfg.DefaultTimeout,
		sem:            make(chan struct{}, cfg.MaxParallel),
		logger:         logger,
	}
}

// Register adds a tool. Registration fails if the name is taken or the
// tool's parameter schema does not compile.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("tool name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}

	schema, err := compileSchema(name, tool.Definition())
	if err != nil {
		return fmt.Errorf("invalid schema for tool %s: %w", name, err)
	}

	r.tools[name] = tool
	r.schemas[name] = schema
	r.logger.Debug("tool registered", "tool", name)
	return nil
}

// Unregister removes a tool. Removing an absent name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// GetTool looks up a tool by name.
func (r *Registry) GetTool(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, &NotFoundError{Tool: name}
	}
	return tool, nil
}

// ListTools returns the definitions of all registered tools sorted by
// registration map iteration; callers needing stable order sort.
func (r *Registry) ListTools() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute looks up and runs a tool under the given timeout (zero means
// the registry default). The returned ToolResult always carries
// duration_ms. A tool reporting success=false is a normal result, not
// an error; errors are reserved for missing tools, invalid arguments,
// timeouts, and panics.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*models.ToolResult, error) {
	tool, err := r.GetTool(name)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema != nil {
		if err := schema.Validate(normalizeArgs(args)); err != nil {
			return nil, &ExecutionError{Tool: name, Err: fmt.Errorf("invalid arguments: %w", err)}
		}
	}

	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	result, err := r.executeWithTimeout(ctx, tool, args, timeout)
	if err != nil {
		return nil, err
	}

	result.ToolName = name
	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

// executeWithTimeout runs the tool in its own goroutine so a hung tool
// cannot wedge the loop, capturing panics as execution errors.
func (r *Registry) executeWithTimeout(ctx context.Context, tool Tool, args map[string]any, timeout time.Duration) (*models.ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *models.ToolResult
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- outcome{err: &ExecutionError{
					Tool: tool.Name(),
					Err:  fmt.Errorf("panic: %v", rec),
				}}
			}
		}()
		result, err := tool.Execute(execCtx, args)
		resultCh <- outcome{result: result, err: err}
	}()

	select {
	case out := <-resultCh:
		if out.err != nil {
			var execErr *ExecutionError
			var secErr *SecurityError
			if errors.As(out.err, &execErr) || errors.As(out.err, &secErr) {
				return nil, out.err
			}
			return nil, &ExecutionError{Tool: tool.Name(), Err: out.err}
		}
		if out.result == nil {
			return nil, &ExecutionError{Tool: tool.Name(), Err: fmt.Errorf("tool returned no result")}
		}
		return out.result, nil

	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TimeoutError{Tool: tool.Name(), Timeout: timeout}
	}
}

func compileSchema(name string, def models.ToolDefinition) (*jsonschema.Schema, error) {
	params := def.Parameters
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	url := name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// normalizeArgs round-trips arguments through JSON so validation sees
// the same value shapes a decoded request body would have.
func normalizeArgs(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return args
	}
	return normalized
}
