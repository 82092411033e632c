package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agentuse/agentuse/internal/validate"
)

// ReadFileTool is the "read" built-in.
type ReadFileTool struct {
	validator *validate.PathValidator
}

func NewReadFileTool(v *validate.PathValidator) *ReadFileTool { return &ReadFileTool{validator: v} }

func (t *ReadFileTool) Name() string        { return "read" }
func (t *ReadFileTool) Description() string { return "Read a file's contents, optionally a range of lines." }
func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":   map[string]any{"type": "string", "description": "Path to the file to read"},
			"offset": map[string]any{"type": "integer", "description": "Line offset to start reading from"},
			"limit":  map[string]any{"type": "integer", "description": "Maximum number of lines to return"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}

	res := t.validator.Validate(path, validate.PermRead)
	if !res.Allowed {
		return ErrorResult(fmt.Sprintf("read denied: %s", res.Error))
	}

	data, err := os.ReadFile(res.Resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read failed: %v", err))
	}

	content := string(data)
	if offset, ok := numericArg(args["offset"]); ok {
		lines := strings.Split(content, "\n")
		limit := len(lines)
		if l, ok := numericArg(args["limit"]); ok {
			limit = l
		}
		start := offset
		if start < 0 {
			start = 0
		}
		if start > len(lines) {
			start = len(lines)
		}
		end := start + limit
		if end > len(lines) {
			end = len(lines)
		}
		content = strings.Join(lines[start:end], "\n")
	}

	return NewResult(content)
}

// WriteFileTool is the "write" built-in.
type WriteFileTool struct {
	validator *validate.PathValidator
}

func NewWriteFileTool(v *validate.PathValidator) *WriteFileTool { return &WriteFileTool{validator: v} }

func (t *WriteFileTool) Name() string        { return "write" }
func (t *WriteFileTool) Description() string { return "Write content to a file, creating it if absent." }
func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Path to the file to write"},
			"content": map[string]any{"type": "string", "description": "Content to write"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}

	res := t.validator.Validate(path, validate.PermWrite)
	if !res.Allowed {
		return ErrorResult(fmt.Sprintf("write denied: %s", res.Error))
	}

	if err := os.MkdirAll(filepath.Dir(res.Resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("write failed: %v", err))
	}
	if err := atomicWrite(res.Resolved, []byte(content)); err != nil {
		return ErrorResult(fmt.Sprintf("write failed: %v", err))
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// EditFileTool is the "edit" built-in: a targeted string replacement.
type EditFileTool struct {
	validator *validate.PathValidator
}

func NewEditFileTool(v *validate.PathValidator) *EditFileTool { return &EditFileTool{validator: v} }

func (t *EditFileTool) Name() string        { return "edit" }
func (t *EditFileTool) Description() string { return "Replace an exact string match within a file." }
func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":        map[string]any{"type": "string"},
			"oldString":   map[string]any{"type": "string"},
			"newString":   map[string]any{"type": "string"},
			"replaceAll":  map[string]any{"type": "boolean"},
		},
		"required": []string{"path", "oldString", "newString"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	oldString, _ := args["oldString"].(string)
	newString, _ := args["newString"].(string)
	replaceAll, _ := args["replaceAll"].(bool)
	if path == "" || oldString == "" {
		return ErrorResult("path and oldString are required")
	}

	res := t.validator.Validate(path, validate.PermEdit)
	if !res.Allowed {
		return ErrorResult(fmt.Sprintf("edit denied: %s", res.Error))
	}

	data, err := os.ReadFile(res.Resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("edit failed: %v", err))
	}
	content := string(data)

	count := strings.Count(content, oldString)
	if count == 0 {
		return ErrorResult("oldString not found in file")
	}
	if count > 1 && !replaceAll {
		return ErrorResult(fmt.Sprintf("oldString matches %d times; pass replaceAll=true or narrow the match", count))
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldString, newString)
	} else {
		updated = strings.Replace(content, oldString, newString, 1)
	}

	if err := atomicWrite(res.Resolved, []byte(updated)); err != nil {
		return ErrorResult(fmt.Sprintf("edit failed: %v", err))
	}
	return NewResult(fmt.Sprintf("replaced %d occurrence(s) in %s", strings.Count(content, oldString)-strings.Count(updated, oldString), path))
}

// atomicWrite writes data to a tempfile in dir's directory then renames it
// over path, per spec.md invariant 6 (no reader ever observes a partial file).
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func numericArg(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}
