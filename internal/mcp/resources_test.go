package mcp

import (
	"context"
	"testing"
)

func TestReadResourceTool_RequiresURI(t *testing.T) {
	tool := &readResourceTool{provider: "fs"}
	res := tool.Execute(context.Background(), map[string]any{})
	if !res.IsError {
		t.Fatal("expected an error when uri is missing")
	}
}

func TestResourceToolNaming(t *testing.T) {
	list := &listResourcesTool{provider: "fs"}
	read := &readResourceTool{provider: "fs"}
	if list.Name() != "fs_list_resources" {
		t.Fatalf("list.Name() = %q", list.Name())
	}
	if read.Name() != "fs_read_resource" {
		t.Fatalf("read.Name() = %q", read.Name())
	}
}
