package shell

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestBlockedCommandRefusedBeforeSpawn(t *testing.T) {
	tool := New("")

	start := time.Now()
	result, err := tool.Execute(context.Background(), map[string]any{"command": "rm -rf /"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success {
		t.Error("blocked command must not succeed")
	}
	if !strings.Contains(result.Error, "Blocked") {
		t.Errorf("error should contain Blocked, got %q", result.Error)
	}
	if time.Since(start) > time.Second {
		t.Error("refusal should happen without spawning a subprocess")
	}
}

func TestBlockedNormalization(t *testing.T) {
	tool := New("")
	for _, command := range []string{
		"RM -RF /",
		"rm   -rf   /",
		" rm -rf / ",
		"rm -rf /home",
		"mkfs.ext4 /dev/sda1",
	} {
		result, err := tool.Execute(context.Background(), map[string]any{"command": command})
		if err != nil {
			t.Fatalf("%q: %v", command, err)
		}
		if result.Success || !strings.Contains(result.Error, "Blocked") {
			t.Errorf("%q should be blocked, got %+v", command, result)
		}
	}
}

func TestEchoHello(t *testing.T) {
	tool := New("")
	result, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("echo should succeed: %+v", result)
	}
	if result.Output != "hello\n" {
		t.Errorf("expected %q, got %q", "hello\n", result.Output)
	}
}

func TestNonZeroExitIsFailureResult(t *testing.T) {
	tool := New("")
	result, err := tool.Execute(context.Background(), map[string]any{"command": "exit 3"})
	if err != nil {
		t.Fatalf("non-zero exit should not raise: %v", err)
	}
	if result.Success {
		t.Error("expected success=false for exit 3")
	}
	if !strings.Contains(result.Error, "exit code 3") {
		t.Errorf("error should name the exit code, got %q", result.Error)
	}
}

func TestStderrCaptured(t *testing.T) {
	tool := New("")
	result, err := tool.Execute(context.Background(), map[string]any{"command": "echo oops >&2; exit 1"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Error("expected failure")
	}
	if !strings.Contains(result.Error, "oops") {
		t.Errorf("stderr should surface in error, got %q", result.Error)
	}
}

func TestStdoutTruncated(t *testing.T) {
	tool := New("")
	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "head -c 20000 /dev/zero | tr '\\0' 'x'",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Output) != stdoutCap {
		t.Errorf("expected output capped at %d bytes, got %d", stdoutCap, len(result.Output))
	}
}

func TestWorkDirOverride(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	result, err := tool.Execute(context.Background(), map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Output, dir) {
		t.Errorf("expected pwd under %s, got %q", dir, result.Output)
	}
}

func TestMissingCommand(t *testing.T) {
	tool := New("")
	result, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Error("missing command should fail")
	}
}
