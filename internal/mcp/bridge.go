package mcp

import (
	"context"
	"encoding/json"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/agentuse/agentuse/internal/tools"
)

// BridgeTool wraps one mcp-go client tool behind the core tools.Tool
// interface, prefixing its name with "<providerName>_" per spec.md §4.3.
// Provider errors at call time are converted into a structured tool result
// instead of propagating as a Go error, so the model can adapt.
type BridgeTool struct {
	provider     string
	originalName string
	description  string
	schema       map[string]any
	client       *mcpclient.Client
}

// NewBridgeTool adapts one MCP tool definition into a core Tool.
func NewBridgeTool(provider string, t mcpgo.Tool, client *mcpclient.Client) *BridgeTool {
	schema := map[string]any{"type": "object", "properties": map[string]any{}}
	if raw, err := json.Marshal(t.InputSchema); err == nil {
		var decoded map[string]any
		if json.Unmarshal(raw, &decoded) == nil && decoded != nil {
			schema = decoded
		}
	}
	return &BridgeTool{
		provider:     provider,
		originalName: t.Name,
		description:  t.Description,
		schema:       schema,
		client:       client,
	}
}

// OriginalName returns the tool's name as advertised by the MCP provider,
// before the "<provider>_" prefix.
func (t *BridgeTool) OriginalName() string { return t.originalName }

func (t *BridgeTool) Name() string        { return t.provider + "_" + t.originalName }
func (t *BridgeTool) Description() string { return t.description }
func (t *BridgeTool) Parameters() map[string]any { return t.schema }

func (t *BridgeTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.originalName
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return classifyToolError(err)
	}
	if res.IsError {
		return tools.ErrorResult(contentText(res.Content))
	}
	return tools.NewResult(contentText(res.Content))
}

func contentText(content []mcpgo.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if tc, ok := mcpgo.AsTextContent(c); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// classifyToolError maps a provider-level error into the structured
// {success:false, error:{type, message, retryable, suggestions}} result the
// execution core (C5) delivers back to the model, per spec.md §4.3/§4.5.
func classifyToolError(err error) *tools.Result {
	msg := err.Error()
	lower := strings.ToLower(msg)

	kind := "unknown"
	retryable := false
	var suggestions []string

	switch {
	case strings.Contains(lower, "not found") && strings.Contains(lower, "tool"):
		kind = "tool_not_found"
		suggestions = []string{"check the tool name is spelled correctly", "call the provider's list-tools tool again"}
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		kind = "rate_limit"
		retryable = true
		suggestions = []string{"wait before retrying", "reduce call frequency"}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		kind = "timeout"
		retryable = true
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "forbidden") || strings.Contains(lower, "401") || strings.Contains(lower, "403"):
		kind = "auth_error"
		suggestions = []string{"check the provider's credentials"}
	case strings.Contains(lower, "not found"):
		kind = "not_found"
	case strings.Contains(lower, "connection") || strings.Contains(lower, "network") || strings.Contains(lower, "eof"):
		kind = "network_error"
		retryable = true
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503"):
		kind = "server_error"
		retryable = true
	}

	payload := map[string]any{
		"success": false,
		"error": map[string]any{
			"type":        kind,
			"message":     msg,
			"retryable":   retryable,
			"suggestions": suggestions,
		},
	}
	b, _ := json.Marshal(payload)
	return tools.ErrorResult(string(b))
}
