// Package shell implements the shell command tool with a pre-spawn
// block-list for destructive commands.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/quillagent/quill/pkg/models"
)

const (
	stdoutCap = 10000
	stderrCap = 5000
)

// blockedCommands are refused when the normalized command equals one
// of them exactly.
var blockedCommands = []string{
	"rm -rf /",
	"rm -rf /*",
	"rm -rf ~",
	"rm -rf .",
	":(){ :|:& };:",
	"mkfs",
	"shutdown",
	"reboot",
	"halt",
	"poweroff",
	"init 0",
	"init 6",
}

// blockedPrefixes are refused when the normalized command starts with
// one of them.
var blockedPrefixes = []string{
	"rm -rf /",
	"mkfs.",
	"dd if=/dev/zero of=/dev/",
	"dd if=/dev/random of=/dev/",
	"> /dev/sd",
	"chmod -r 777 /",
	"chown -r",
	"shutdown ",
	"reboot ",
}

// Tool runs a command string in a subprocess via the system shell.
type Tool struct {
	workDir string
}

// New creates a shell tool. workDir is the subprocess working
// directory; empty inherits the server's.
func New(workDir string) *Tool {
	return &Tool{workDir: workDir}
}

func (t *Tool) Name() string { return "shell" }

func (t *Tool) Description() string {
	return "Run a shell command on the host and return its output. Destructive commands are refused."
}

func (t *Tool) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute.",
				},
				"workdir": map[string]any{
					"type":        "string",
					"description": "Working directory override.",
				},
			},
			"required": []string{"command"},
		},
		RequiredParams: []string{"command"},
	}
}

// Execute runs the command. Blocked commands are refused before any
// subprocess is spawned. Non-zero exit codes surface as success=false
// with the captured output intact.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return &models.ToolResult{
			Success: false,
			Error:   "command is required",
		}, nil
	}

	if reason := checkBlocked(command); reason != "" {
		return &models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("Blocked: %s", reason),
		}, nil
	}

	workDir := t.workDir
	if override, _ := args["workdir"].(string); override != "" {
		workDir = override
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := &models.ToolResult{
		Output: truncate(stdout.String(), stdoutCap),
		Metadata: map[string]any{
			"exit_code": exitCode(cmd, runErr),
		},
	}
	if errText := truncate(stderr.String(), stderrCap); errText != "" {
		result.Metadata["stderr"] = errText
	}

	switch {
	case runErr == nil:
		result.Success = true
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.Success = false
			result.Error = fmt.Sprintf("exit code %d", exitErr.ExitCode())
			if stderrText := truncate(stderr.String(), stderrCap); stderrText != "" {
				result.Error += ": " + stderrText
			}
		} else {
			result.Success = false
			result.Error = runErr.Error()
		}
	}

	return result, nil
}

// checkBlocked returns a refusal reason for commands on the block
// lists, empty otherwise. Matching is against the normalized form:
// lowercase with whitespace collapsed.
func checkBlocked(command string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(command), " "))

	for _, blocked := range blockedCommands {
		if normalized == blocked {
			return fmt.Sprintf("command %q is on the deny list", blocked)
		}
	}
	for _, prefix := range blockedPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return fmt.Sprintf("commands starting with %q are denied", prefix)
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func exitCode(cmd *exec.Cmd, runErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		return -1
	}
	return 0
}
