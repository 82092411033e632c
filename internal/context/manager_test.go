package ctxmgr

import (
	"context"
	"strings"
	"testing"

	"github.com/agentuse/agentuse/internal/providers"
)

func TestShouldCompact_ThresholdCrossing(t *testing.T) {
	m := New(10000, 0.7, 3)
	if m.ShouldCompact() {
		t.Fatal("fresh manager should not need compaction")
	}
	m.RecordUsage(&providers.Usage{PromptTokens: 6000, CompletionTokens: 2000, TotalTokens: 8000})
	if !m.ShouldCompact() {
		t.Fatal("8000 accounted tokens against a 10000 limit at 0.7 threshold (7000) should trigger compaction")
	}
}

// S8-style: enough large messages against a 10000-token limit at 0.7
// threshold (7000 tokens) to cross it under the 4-chars-per-token estimate;
// the retained tail is exactly the last 3 messages, and the first message
// becomes the synthetic summary.
func TestCompact_RetainsExactTail(t *testing.T) {
	m := New(10000, 0.7, 3)

	messages := make([]providers.Message, 0, 8)
	for i := 0; i < 8; i++ {
		messages = append(messages, providers.Message{Role: "user", Content: strings.Repeat("x", 4000)})
	}
	m.Seed(messages)
	if !m.ShouldCompact() {
		t.Fatal("expected 8 x 4000-char messages (8000 estimated tokens) to exceed the 7000-token threshold")
	}

	summarizeCalls := 0
	summarize := func(ctx context.Context, dropped []providers.Message) (string, error) {
		summarizeCalls++
		return "synthetic summary", nil
	}
	out := m.Compact(context.Background(), messages, summarize)

	if len(out) != 4 {
		t.Fatalf("compacted length = %d, want 4 (1 summary + 3 tail)", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "synthetic summary" {
		t.Fatalf("first message = %+v, want synthetic summary", out[0])
	}
	if out[1].Content != messages[5].Content || out[2].Content != messages[6].Content || out[3].Content != messages[7].Content {
		t.Fatal("retained tail does not match the last 3 original messages")
	}
	if summarizeCalls != 1 {
		t.Fatalf("summarize called %d times, want 1", summarizeCalls)
	}
}

func TestCompact_PreservesToolCallPairingAtBoundary(t *testing.T) {
	m := New(10000, 0.7, 2)
	messages := []providers.Message{
		{Role: "user", Content: strings.Repeat("a", 4000)},
		{Role: "assistant", Content: "", ToolCalls: []providers.ToolCall{{ID: "1", Name: "echo"}}},
		{Role: "tool", Content: "result", ToolCallID: "1"},
		{Role: "assistant", Content: "final"},
	}
	out := m.Compact(context.Background(), messages, func(ctx context.Context, dropped []providers.Message) (string, error) {
		return "summary", nil
	})

	// keepTail=2 would naively start at index 2 (the "tool" message), which
	// would orphan its tool-call; alignment must walk back to index 1.
	foundToolCall := false
	foundToolResult := false
	for _, msg := range out {
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			foundToolCall = true
		}
		if msg.Role == "tool" {
			foundToolResult = true
		}
	}
	if !foundToolCall || !foundToolResult {
		t.Fatalf("expected retained tail to keep the tool-call/tool-result pair together, got %+v", out)
	}
}

func TestCompact_FallbackSummaryOnSummarizeError(t *testing.T) {
	m := New(10000, 0.7, 1)
	messages := []providers.Message{
		{Role: "user", Content: strings.Repeat("a", 4000)},
		{Role: "assistant", Content: "", ToolCalls: []providers.ToolCall{{ID: "1", Name: "x"}}},
		{Role: "tool", Content: "r", ToolCallID: "1"},
		{Role: "assistant", Content: "final"},
	}
	out := m.Compact(context.Background(), messages, func(ctx context.Context, dropped []providers.Message) (string, error) {
		return "", context.DeadlineExceeded
	})
	if out[0].Role != "system" {
		t.Fatal("expected a synthetic summary message even when summarize fails")
	}
	if !strings.Contains(out[0].Content, "messages exchanged") {
		t.Fatalf("expected deterministic fallback summary text, got %q", out[0].Content)
	}
}

func TestCompact_IdempotentWhenAlreadyShort(t *testing.T) {
	m := New(10000, 0.7, 5)
	messages := []providers.Message{{Role: "user", Content: "hi"}}
	out := m.Compact(context.Background(), messages, func(ctx context.Context, dropped []providers.Message) (string, error) {
		t.Fatal("summarize should not be called when the buffer is already within keepTail")
		return "", nil
	})
	if len(out) != 1 || out[0].Content != "hi" {
		t.Fatalf("expected Compact to be a no-op, got %+v", out)
	}
}

func TestDisabledViaEnv(t *testing.T) {
	t.Setenv(DisabledEnvVar, "1")
	m := New(100, 0.1, 1)
	m.RecordUsage(&providers.Usage{PromptTokens: 1000, CompletionTokens: 1000})
	if m.ShouldCompact() {
		t.Fatal("ShouldCompact must always be false when disabled via env var")
	}
}
