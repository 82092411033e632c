package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIProvider_Chat_NonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("authorization") != "Bearer test-key" {
			t.Errorf("missing/invalid authorization header: %q", r.Header.Get("authorization"))
		}
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 4, "completion_tokens": 2, "total_tokens": 6}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key")
	p.baseURL = srv.URL
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi there" {
		t.Fatalf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 6 {
		t.Fatalf("Usage = %+v", resp.Usage)
	}
}

func TestOpenAIProvider_ChatStream_SSE(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"he"},"finish_reason":null}]}`,
		`data: {"choices":[{"delta":{"content":"llo"},"finish_reason":null}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
		`data: [DONE]`,
		"",
	}, "\n\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sse)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key")
	p.baseURL = srv.URL

	var deltas []string
	resp, err := p.ChatStream(context.Background(), ChatRequest{}, func(c StreamChunk) {
		if c.TextDelta != "" {
			deltas = append(deltas, c.TextDelta)
		}
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 3 {
		t.Fatalf("Usage = %+v", resp.Usage)
	}
}

func TestOpenAIProvider_ChatStream_ToolCalls(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"echo","arguments":""}}]},"finish_reason":null}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"x\":1}"}}]},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
		"",
	}, "\n\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sse)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key")
	p.baseURL = srv.URL
	resp, err := p.ChatStream(context.Background(), ChatRequest{}, func(StreamChunk) {})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("FinishReason = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "echo" || resp.ToolCalls[0].ID != "call_1" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["x"] != float64(1) {
		t.Fatalf("Arguments = %+v", resp.ToolCalls[0].Arguments)
	}
}

func TestOpenAIProvider_HTTPErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer srv.Close()
	p := NewOpenAIProvider("test-key")
	p.baseURL = srv.URL
	_, err := p.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestOpenAIProvider_BuildRequestBody_ToolCallRoundTrip(t *testing.T) {
	p := NewOpenAIProvider("key")
	req := ChatRequest{
		Messages: []Message{
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "1", Name: "echo", Arguments: map[string]any{"x": 1}}}},
			{Role: "tool", Content: "r", ToolCallID: "1"},
		},
	}
	body := p.buildRequestBody("gpt-test", req, false)
	messages, ok := body["messages"].([]map[string]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
	if messages[1]["tool_call_id"] != "1" {
		t.Fatalf("expected tool_call_id set on the tool message, got %v", messages[1])
	}
}
