// Package ctxmgr implements the context manager (C4): approximate token
// accounting against a model's context window, threshold-triggered
// compaction, and message-window pruning, per spec.md §4.4.
package ctxmgr

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/agentuse/agentuse/internal/providers"
)

const (
	charsPerToken    = 4
	defaultThreshold = 0.7
	defaultKeepTail  = 3
)

// DisabledEnvVar turns context management off globally when set to any
// non-empty value, per spec.md §4.4 "Disabled globally via environment toggle".
const DisabledEnvVar = "AGENTUSE_DISABLE_CONTEXT_MANAGEMENT"

// Manager tracks accumulated token usage for one execution and decides when
// the message buffer needs compaction.
type Manager struct {
	contextLimit int
	threshold    float64
	keepTail     int
	disabled     bool

	mu             sync.Mutex
	promptTokens   int
	completionTokens int
	compacting     bool
}

// New builds a manager bound to contextLimit (the model's window, in
// tokens). threshold and keepTail default to spec.md's 0.7 / 3 when zero.
func New(contextLimit int, threshold float64, keepTail int) *Manager {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if keepTail <= 0 {
		keepTail = defaultKeepTail
	}
	return &Manager{
		contextLimit: contextLimit,
		threshold:    threshold,
		keepTail:     keepTail,
		disabled:     os.Getenv(DisabledEnvVar) != "",
	}
}

// Seed primes the token estimate from the initial system+user messages,
// before any model usage has been reported.
func (m *Manager) Seed(messages []providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = estimateMessages(messages)
}

// RecordUsage folds in real usage once the model reports it, replacing the
// running estimate (spec.md: "updated from real usage when provided,
// otherwise from a 4-characters-per-token estimate").
func (m *Manager) RecordUsage(u *providers.Usage) {
	if u == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = u.PromptTokens
	m.completionTokens = u.CompletionTokens
}

// EstimateAppend folds a just-appended message into the running estimate
// when no real usage is available yet for this turn.
func (m *Manager) EstimateAppend(msg providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionTokens += estimateTokens(msg.Content)
}

// Total returns the current accounted token count.
func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.promptTokens + m.completionTokens
}

// ShouldCompact reports whether the accounted total exceeds
// contextLimit × threshold, per spec.md §4.4. Always false when disabled.
func (m *Manager) ShouldCompact() bool {
	if m.disabled || m.contextLimit <= 0 {
		return false
	}
	return float64(m.Total()) > float64(m.contextLimit)*m.threshold
}

// Summarizer generates a synthetic summary message for the portion of the
// buffer being dropped. It is the execution core's model-calling hook,
// injected so this package stays provider-agnostic.
type Summarizer func(ctx context.Context, dropped []providers.Message) (string, error)

// Compact replaces all but the most recent keepTail messages with one
// synthetic summary message, preserving tool-call/tool-result pairing in
// the retained tail (spec.md §4.4/§9: "compact only between turns"). It is a
// no-op when messages is already within keepTail, and a call made while
// another compaction is in progress returns messages unchanged (spec.md
// forbids concurrent compactions). It does not track whether messages were
// appended since the previous compaction: called again on an already
// compacted buffer longer than keepTail, it summarizes the older part again.
func (m *Manager) Compact(ctx context.Context, messages []providers.Message, summarize Summarizer) []providers.Message {
	m.mu.Lock()
	if m.compacting {
		m.mu.Unlock()
		return messages
	}
	m.compacting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.compacting = false
		m.mu.Unlock()
	}()

	if len(messages) <= m.keepTail {
		return messages
	}

	tail := alignTailOnTurnBoundary(messages, m.keepTail)
	dropped := messages[:len(messages)-len(tail)]
	if len(dropped) == 0 {
		return messages
	}

	summary, err := summarize(ctx, dropped)
	if err != nil || summary == "" {
		summary = fallbackSummary(dropped)
	}

	compacted := make([]providers.Message, 0, len(tail)+1)
	compacted = append(compacted, providers.Message{Role: "system", Content: summary})
	compacted = append(compacted, tail...)

	m.mu.Lock()
	m.promptTokens = estimateMessages(compacted)
	m.mu.Unlock()

	return compacted
}

// alignTailOnTurnBoundary extends the requested tail length backward, if
// needed, so a tool-call message never loses its matching tool-result —
// spec.md invariant 1 must hold across a compaction boundary too.
func alignTailOnTurnBoundary(messages []providers.Message, keepTail int) []providers.Message {
	start := len(messages) - keepTail
	if start <= 0 {
		return messages
	}
	for start > 0 && messages[start].Role == "tool" {
		start--
	}
	return messages[start:]
}

func fallbackSummary(dropped []providers.Message) string {
	toolCalls := 0
	for _, msg := range dropped {
		toolCalls += len(msg.ToolCalls)
	}
	return fmt.Sprintf("%d messages exchanged, %d tool calls", len(dropped), toolCalls)
}

func estimateMessages(messages []providers.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimateTokens(msg.Content)
	}
	return total
}

func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}
