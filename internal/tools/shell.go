package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/agentuse/agentuse/internal/validate"
)

const defaultShellTimeout = 60 * time.Second

// ShellTool is the "bash" built-in: it runs a command through sh -c after
// validate.CommandValidator has cleared it, per spec.md §4.2.
type ShellTool struct {
	workingDir string
	validator  *validate.CommandValidator
	timeout    time.Duration
}

// NewShellTool builds the bash tool rooted at workingDir, validating every
// command against validator before it runs.
func NewShellTool(workingDir string, validator *validate.CommandValidator) *ShellTool {
	return &ShellTool{workingDir: workingDir, validator: validator, timeout: defaultShellTimeout}
}

func (t *ShellTool) Name() string        { return "bash" }
func (t *ShellTool) Description() string { return "Execute a shell command inside the project root and return its combined output." }

func (t *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Optional timeout in seconds, overriding the default",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	result := t.validator.Validate(command)
	if !result.Allowed {
		return ErrorResult(fmt.Sprintf("command rejected: %s", result.Error))
	}

	timeout := t.timeout
	if secs, ok := args["timeout"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = t.workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + stderr.String()
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("command timed out after %s", timeout))
		}
		if output == "" {
			output = err.Error()
		}
		return ErrorResult(output)
	}

	if output == "" {
		output = "(command completed with no output)"
	}
	return NewResult(output)
}
