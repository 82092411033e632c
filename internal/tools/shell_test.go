package tools

import (
	"context"
	"testing"

	"github.com/agentuse/agentuse/internal/validate"
)

func TestShellTool_AllowedCommandRuns(t *testing.T) {
	root := t.TempDir()
	v := validate.NewCommandValidator(root, []string{"echo *"})
	tool := NewShellTool(root, v)

	res := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if res.IsError {
		t.Fatalf("expected success, got error: %s", res.Output)
	}
	if res.Output != "hello\n" {
		t.Fatalf("output = %q, want %q", res.Output, "hello\n")
	}
}

func TestShellTool_RejectedCommandNeverRuns(t *testing.T) {
	root := t.TempDir()
	v := validate.NewCommandValidator(root, []string{"echo *"})
	tool := NewShellTool(root, v)

	res := tool.Execute(context.Background(), map[string]any{"command": "rm -rf /"})
	if !res.IsError {
		t.Fatal("expected denylisted command to be rejected without running")
	}
}

func TestShellTool_MissingCommandArg(t *testing.T) {
	root := t.TempDir()
	v := validate.NewCommandValidator(root, []string{"echo *"})
	tool := NewShellTool(root, v)
	res := tool.Execute(context.Background(), map[string]any{})
	if !res.IsError {
		t.Fatal("expected missing command to error")
	}
}
