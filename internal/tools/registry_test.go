package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillagent/quill/pkg/models"
)

type stubTool struct {
	name    string
	execute func(ctx context.Context, args map[string]any) (*models.ToolResult, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }

func (s *stubTool) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        s.name,
		Description: "stub",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value": map[string]any{"type": "string"},
			},
			"required": []string{"value"},
		},
		RequiredParams: []string{"value"},
	}
}

func (s *stubTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return &models.ToolResult{Success: true, Output: "ok"}, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(RegistryConfig{DefaultTimeout: 5 * time.Second, MaxParallel: 2}, nil)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Register(&stubTool{name: "echo"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(&stubTool{name: "echo"}); err == nil {
		t.Fatal("duplicate register should fail")
	}
}

func TestGetToolNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetTool("missing")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestExecuteSuccessStampsDuration(t *testing.T) {
	r := newTestRegistry(t)
	tool := &stubTool{name: "echo", execute: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
		time.Sleep(5 * time.Millisecond)
		return &models.ToolResult{Success: true, Output: args["value"].(string)}, nil
	}}
	if err := r.Register(tool); err != nil {
		t.Fatal(err)
	}

	result, err := r.Execute(context.Background(), "echo", map[string]any{"value": "hi"}, 0)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success || result.Output != "hi" {
		t.Errorf("unexpected result %+v", result)
	}
	if result.ToolName != "echo" {
		t.Errorf("tool name not stamped: %q", result.ToolName)
	}
	if result.DurationMS < 1 {
		t.Errorf("duration not stamped: %d", result.DurationMS)
	}
}

func TestExecuteValidatesArguments(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Register(&stubTool{name: "echo"}); err != nil {
		t.Fatal(err)
	}

	// Missing required "value" must be rejected before the tool runs.
	_, err := r.Execute(context.Background(), "echo", map[string]any{}, 0)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError for invalid args, got %v", err)
	}
}

func TestExecuteFailedResultIsNotAnError(t *testing.T) {
	r := newTestRegistry(t)
	tool := &stubTool{name: "fails", execute: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
		return &models.ToolResult{Success: false, Error: "exit code 2"}, nil
	}}
	if err := r.Register(tool); err != nil {
		t.Fatal(err)
	}

	result, err := r.Execute(context.Background(), "fails", map[string]any{"value": "x"}, 0)
	if err != nil {
		t.Fatalf("failed result should not raise: %v", err)
	}
	if result.Success {
		t.Error("expected success=false")
	}
}

func TestExecuteTimeout(t *testing.T) {
	r := newTestRegistry(t)
	tool := &stubTool{name: "slow", execute: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
		select {
		case <-time.After(time.Minute):
			return &models.ToolResult{Success: true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	if err := r.Register(tool); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err := r.Execute(context.Background(), "slow", map[string]any{"value": "x"}, 50*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not fire promptly")
	}
}

func TestExecuteCapturesPanic(t *testing.T) {
	r := newTestRegistry(t)
	tool := &stubTool{name: "boom", execute: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
		panic("kaboom")
	}}
	if err := r.Register(tool); err != nil {
		t.Fatal(err)
	}

	_, err := r.Execute(context.Background(), "boom", map[string]any{"value": "x"}, 0)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError from panic, got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Register(&stubTool{name: "echo"}); err != nil {
		t.Fatal(err)
	}
	r.Unregister("echo")
	if _, err := r.GetTool("echo"); !IsNotFound(err) {
		t.Fatalf("expected not found after unregister, got %v", err)
	}
	// Re-registration after unregister must succeed.
	if err := r.Register(&stubTool{name: "echo"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}

func TestListTools(t *testing.T) {
	r := newTestRegistry(t)
	for _, name := range []string{"alpha", "beta"} {
		if err := r.Register(&stubTool{name: name}); err != nil {
			t.Fatal(err)
		}
	}
	defs := r.ListTools()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if r.Len() != 2 {
		t.Errorf("Len mismatch: %d", r.Len())
	}
}
