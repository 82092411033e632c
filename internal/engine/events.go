// Package engine implements the execution core (C5): the streaming
// agent loop that drives a model through tool calls, enforces the step
// budget and doom-loop detection, and emits a finite, non-restartable
// sequence of events, per spec.md §4.5.
package engine

import "github.com/agentuse/agentuse/internal/providers"

// EventType discriminates the kinds of events Execute emits.
type EventType string

const (
	EventLLMStart      EventType = "llm-start"
	EventLLMFirstToken EventType = "llm-first-token"
	EventText          EventType = "text"
	EventToolCall      EventType = "tool-call"
	EventToolResult    EventType = "tool-result"
	EventToolError     EventType = "tool-error"
	EventWarning       EventType = "warning"
	EventFinish        EventType = "finish"
	EventError         EventType = "error"
)

// FinishReason is why a run ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishStepLimit FinishReason = "step-limit"
	FinishAborted   FinishReason = "aborted"
)

// ToolCallInfo describes one model-requested tool invocation.
type ToolCallInfo struct {
	ID          string
	Name        string
	Input       map[string]any
	IsSubAgent  bool
	StepNumber  int
}

// ToolResultInfo is the outcome of executing one tool call.
type ToolResultInfo struct {
	ID       string
	Name     string
	Output   string
	IsError  bool
	Duration int64 // milliseconds
}

// Event is one item in the lazy sequence Execute produces.
type Event struct {
	Type EventType

	Text string

	ToolCall   *ToolCallInfo
	ToolResult *ToolResultInfo

	Warning string

	FinishReason FinishReason
	Usage        *providers.Usage

	Err error
}
