package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AnthropicProvider calls the Anthropic Messages API, streaming when asked.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicProvider constructs a provider bound to apiKey.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:     apiKey,
		baseURL:    "https://api.anthropic.com/v1/messages",
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return "claude-sonnet-4-5" }

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.call(ctx, req, nil)
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	return p.call(ctx, req, onChunk)
}

func (p *AnthropicProvider) call(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}
	stream := onChunk != nil
	body := p.buildRequestBody(model, req, stream)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody bytes.Buffer
		errBody.ReadFrom(resp.Body)
		return nil, fmt.Errorf("anthropic http %d: %s", resp.StatusCode, errBody.String())
	}

	if stream {
		return p.consumeStream(resp, onChunk)
	}

	var raw anthropicMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	return raw.toChatResponse(), nil
}

func (p *AnthropicProvider) buildRequestBody(model string, req ChatRequest, stream bool) map[string]any {
	var systemBlocks []map[string]any
	var messages []map[string]any

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			systemBlocks = append(systemBlocks, map[string]any{"type": "text", "text": msg.Content})
		case "user":
			messages = append(messages, map[string]any{"role": "user", "content": msg.Content})
		case "assistant":
			var blocks []map[string]any
			if msg.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, map[string]any{"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": tc.Arguments})
			}
			messages = append(messages, map[string]any{"role": "assistant", "content": blocks})
		case "tool":
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []map[string]any{
					{"type": "tool_result", "tool_use_id": msg.ToolCallID, "content": msg.Content},
				},
			})
		}
	}

	maxTokens := 4096
	if v, ok := req.Options[OptMaxTokens].(int); ok {
		maxTokens = v
	}
	body := map[string]any{"model": model, "max_tokens": maxTokens, "messages": messages}
	if stream {
		body["stream"] = true
	}
	if len(systemBlocks) > 0 {
		body["system"] = systemBlocks
	}
	if v, ok := req.Options[OptTemperature]; ok {
		body["temperature"] = v
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": CleanSchemaForProvider("anthropic", t.Parameters),
			})
		}
		body["tools"] = tools
	}
	return body
}

// consumeStream reads an Anthropic SSE stream and assembles the final
// ChatResponse, invoking onChunk for every text delta.
func (p *AnthropicProvider) consumeStream(resp *http.Response, onChunk func(StreamChunk)) (*ChatResponse, error) {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	result := &ChatResponse{FinishReason: "stop"}
	var contentBuf strings.Builder
	toolCallArgs := map[int]*strings.Builder{}
	toolCallMeta := map[int]ToolCall{}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		var evt map[string]any
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}
		switch evt["type"] {
		case "content_block_start":
			idx := int(evt["index"].(float64))
			block, _ := evt["content_block"].(map[string]any)
			if block["type"] == "tool_use" {
				toolCallMeta[idx] = ToolCall{ID: fmt.Sprint(block["id"]), Name: fmt.Sprint(block["name"])}
				toolCallArgs[idx] = &strings.Builder{}
			}
		case "content_block_delta":
			idx := int(evt["index"].(float64))
			delta, _ := evt["delta"].(map[string]any)
			switch delta["type"] {
			case "text_delta":
				txt := fmt.Sprint(delta["text"])
				contentBuf.WriteString(txt)
				onChunk(StreamChunk{TextDelta: txt})
			case "input_json_delta":
				if b, ok := toolCallArgs[idx]; ok {
					b.WriteString(fmt.Sprint(delta["partial_json"]))
				}
			}
		case "message_delta":
			if delta, ok := evt["delta"].(map[string]any); ok {
				if reason, ok := delta["stop_reason"].(string); ok && reason == "tool_use" {
					result.FinishReason = "tool_calls"
				}
			}
			if usage, ok := evt["usage"].(map[string]any); ok {
				result.Usage = usageFromMap(usage)
			}
		case "message_stop":
			onChunk(StreamChunk{Done: true})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read anthropic stream: %w", err)
	}

	result.Content = contentBuf.String()
	for idx, meta := range toolCallMeta {
		args := map[string]any{}
		if raw := toolCallArgs[idx].String(); raw != "" {
			json.Unmarshal([]byte(raw), &args)
		}
		meta.Arguments = args
		result.ToolCalls = append(result.ToolCalls, meta)
	}
	return result, nil
}

type anthropicMessage struct {
	Content []struct {
		Type  string         `json:"type"`
		Text  string         `json:"text"`
		ID    string         `json:"id"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (m *anthropicMessage) toChatResponse() *ChatResponse {
	resp := &ChatResponse{FinishReason: "stop"}
	for _, block := range m.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	if m.StopReason == "tool_use" {
		resp.FinishReason = "tool_calls"
	}
	resp.Usage = &Usage{
		PromptTokens:     m.Usage.InputTokens,
		CompletionTokens: m.Usage.OutputTokens,
		TotalTokens:      m.Usage.InputTokens + m.Usage.OutputTokens,
	}
	return resp
}

func usageFromMap(m map[string]any) *Usage {
	getInt := func(k string) int {
		if v, ok := m[k].(float64); ok {
			return int(v)
		}
		return 0
	}
	in, out := getInt("input_tokens"), getInt("output_tokens")
	return &Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}
