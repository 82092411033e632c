package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/agentuse/agentuse/internal/tools"
)

// buildResourceTools probes provider for resources and, if it exposes any,
// projects them into the two synthetic tools spec.md §4.3 describes:
// "<provider>_list_resources" and "<provider>_read_resource(uri)" — so an
// agent that only sees tools can still reach resource-oriented servers.
func (m *Manager) buildResourceTools(ctx context.Context, provider string, client *mcpclient.Client) []tools.Tool {
	res, err := client.ListResources(ctx, mcpgo.ListResourcesRequest{})
	if err != nil {
		slog.Debug("mcp.resources.unsupported", "server", provider, "error", err)
		return nil
	}
	if len(res.Resources) == 0 {
		return nil
	}
	return []tools.Tool{
		&listResourcesTool{provider: provider, client: client, resources: res.Resources},
		&readResourceTool{provider: provider, client: client},
	}
}

type listResourcesTool struct {
	provider  string
	client    *mcpclient.Client
	resources []mcpgo.Resource
}

func (t *listResourcesTool) Name() string { return t.provider + "_list_resources" }
func (t *listResourcesTool) Description() string {
	return fmt.Sprintf("List resources exposed by the %s MCP provider.", t.provider)
}
func (t *listResourcesTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *listResourcesTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	res, err := t.client.ListResources(ctx, mcpgo.ListResourcesRequest{})
	if err != nil {
		return classifyToolError(err)
	}
	b, _ := json.Marshal(res.Resources)
	return tools.NewResult(string(b))
}

type readResourceTool struct {
	provider string
	client   *mcpclient.Client
}

func (t *readResourceTool) Name() string { return t.provider + "_read_resource" }
func (t *readResourceTool) Description() string {
	return fmt.Sprintf("Read one resource by URI from the %s MCP provider.", t.provider)
}
func (t *readResourceTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"uri": map[string]any{"type": "string"}},
		"required":   []string{"uri"},
	}
}

func (t *readResourceTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	uri, _ := args["uri"].(string)
	if uri == "" {
		return tools.ErrorResult("uri is required")
	}
	req := mcpgo.ReadResourceRequest{}
	req.Params.URI = uri
	res, err := t.client.ReadResource(ctx, req)
	if err != nil {
		return classifyToolError(err)
	}
	b, _ := json.Marshal(res.Contents)
	return tools.NewResult(string(b))
}
