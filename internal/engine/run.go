package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentuse/agentuse/internal/providers"
	"github.com/agentuse/agentuse/internal/tools"

	ctxmgr "github.com/agentuse/agentuse/internal/context"
)

// Config is the input to Execute, mirroring spec.md §4.5's
// execute(agent, tools, {systemMessages, userMessage, maxSteps, abortSignal,
// subAgentNames}).
type Config struct {
	Provider providers.Provider
	Model    string

	Tools *tools.Registry

	SystemMessages []providers.Message
	UserMessage    string

	MaxSteps int

	// ContextManager is optional; when nil, context management is skipped.
	ContextManager *ctxmgr.Manager
	Summarize      ctxmgr.Summarizer

	DoomLoop DoomLoopConfig

	// SubAgentNames marks which tool names in Tools are sub-agent tools,
	// so tool-call events carry IsSubAgent for tracing.
	SubAgentNames map[string]bool
}

// Execute drives one agent run and returns a channel of events. The channel
// is closed after a terminal event (finish or error) is emitted. This is a
// finite, non-restartable sequence, per spec.md §4.5.
func Execute(ctx context.Context, cfg Config) <-chan Event {
	out := make(chan Event, 8)
	go run(ctx, cfg, out)
	return out
}

func run(ctx context.Context, cfg Config, out chan<- Event) {
	defer close(out)

	messages := make([]providers.Message, 0, len(cfg.SystemMessages)+1)
	messages = append(messages, cfg.SystemMessages...)
	messages = append(messages, providers.Message{Role: "user", Content: cfg.UserMessage})

	if cfg.ContextManager != nil {
		cfg.ContextManager.Seed(messages)
	}

	doom := newDoomLoopDetector(cfg.DoomLoop)
	stepCount := 0
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1 << 30 // effectively unbounded
	}

	for {
		select {
		case <-ctx.Done():
			emit(out, Event{Type: EventError, Err: ctx.Err()})
			return
		default:
		}

		if cfg.ContextManager != nil && cfg.ContextManager.ShouldCompact() {
			messages = cfg.ContextManager.Compact(ctx, messages, cfg.Summarize)
		}

		emit(out, Event{Type: EventLLMStart})

		toolDefs := toolDefinitions(cfg.Tools)
		req := providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    cfg.Model,
			Options: map[string]any{
				providers.OptMaxTokens:   8192,
				providers.OptTemperature: 0.7,
			},
		}

		firstToken := true
		var textAccum string
		resp, err := cfg.Provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
			if chunk.TextDelta == "" {
				return
			}
			if firstToken {
				emit(out, Event{Type: EventLLMFirstToken})
				firstToken = false
			}
			textAccum += chunk.TextDelta
			emit(out, Event{Type: EventText, Text: chunk.TextDelta})
		})
		if err != nil {
			if ctx.Err() != nil {
				emit(out, Event{Type: EventError, Err: ctx.Err()})
				return
			}
			emit(out, Event{Type: EventError, Err: fmt.Errorf("model call failed: %w", err)})
			return
		}

		if cfg.ContextManager != nil {
			cfg.ContextManager.RecordUsage(resp.Usage)
		}

		assistantMsg := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		if len(resp.ToolCalls) == 0 {
			emit(out, Event{Type: EventFinish, FinishReason: FinishStop, Usage: resp.Usage})
			return
		}

		if stepCount >= maxSteps {
			emit(out, Event{Type: EventFinish, FinishReason: FinishStepLimit, Usage: resp.Usage})
			return
		}

		for _, call := range resp.ToolCalls {
			if stepCount >= maxSteps {
				emit(out, Event{Type: EventFinish, FinishReason: FinishStepLimit, Usage: resp.Usage})
				return
			}

			stepCount++
			warnNearCap(out, stepCount, maxSteps)

			isSubAgent := cfg.SubAgentNames != nil && cfg.SubAgentNames[call.Name]
			emit(out, Event{Type: EventToolCall, ToolCall: &ToolCallInfo{
				ID: call.ID, Name: call.Name, Input: call.Arguments,
				IsSubAgent: isSubAgent, StepNumber: stepCount,
			}})

			if doom.Record(call.Name, call.Arguments) {
				result, terminate := handleDoomLoop(cfg.DoomLoop)
				messages = append(messages, providers.Message{Role: "tool", Content: result.Output, ToolCallID: call.ID})
				emit(out, Event{Type: EventToolResult, ToolResult: &ToolResultInfo{
					ID: call.ID, Name: call.Name, Output: result.Output, IsError: result.IsError,
				}})
				if terminate {
					emit(out, Event{Type: EventFinish, FinishReason: FinishStepLimit, Usage: resp.Usage})
					return
				}
				continue
			}

			start := time.Now()
			result := executeTool(ctx, cfg.Tools, call.Name, call.Arguments)
			duration := time.Since(start).Milliseconds()

			messages = append(messages, providers.Message{Role: "tool", Content: result.Output, ToolCallID: call.ID})
			if cfg.ContextManager != nil {
				cfg.ContextManager.EstimateAppend(messages[len(messages)-1])
			}

			evType := EventToolResult
			if result.IsError {
				evType = EventToolError
			}
			emit(out, Event{Type: evType, ToolResult: &ToolResultInfo{
				ID: call.ID, Name: call.Name, Output: result.Output, IsError: result.IsError, Duration: duration,
			}})
		}
	}
}

func emit(out chan<- Event, ev Event) {
	out <- ev
}

func warnNearCap(out chan<- Event, stepCount, maxSteps int) {
	if maxSteps <= 0 || maxSteps >= 1<<29 {
		return
	}
	if stepCount == maxSteps {
		emit(out, Event{Type: EventWarning, Warning: "step budget reached"})
		return
	}
	if float64(stepCount) >= 0.9*float64(maxSteps) {
		emit(out, Event{Type: EventWarning, Warning: "approaching step budget"})
	}
}

func handleDoomLoop(cfg DoomLoopConfig) (*tools.Result, bool) {
	msg := "doom-loop-detected: the same tool call has repeated; try a different approach"
	switch cfg.Mode {
	case DoomLoopTerminate:
		return tools.ErrorResult(msg), true
	case DoomLoopError:
		return tools.ErrorResult(msg), false
	default:
		return tools.ErrorResult(msg), false
	}
}

// executeTool looks the tool up in the registry and runs it, converting a
// missing tool into the same structured error shape a provider error would
// produce (spec.md §4.5's tool_not_found classification).
func executeTool(ctx context.Context, registry *tools.Registry, name string, args map[string]any) *tools.Result {
	t, ok := registry.Get(name)
	if !ok {
		payload, _ := json.Marshal(map[string]any{
			"success": false,
			"error": map[string]any{
				"type": "tool_not_found", "message": fmt.Sprintf("no such tool: %s", name),
				"retryable": false, "suggestions": []string{"check the tool name against the available tool list"},
			},
		})
		return tools.ErrorResult(string(payload))
	}
	if err := tools.ValidateArgs(t.Parameters(), args); err != nil {
		payload, _ := json.Marshal(map[string]any{
			"success": false,
			"error": map[string]any{
				"type": "validation_failed", "message": err.Error(),
				"retryable": false, "suggestions": []string{"fix the arguments to match the tool's declared schema"},
			},
		})
		return tools.ErrorResult(string(payload))
	}
	return t.Execute(ctx, args)
}

func toolDefinitions(registry *tools.Registry) []providers.ToolDefinition {
	if registry == nil {
		return nil
	}
	list := registry.List()
	defs := make([]providers.ToolDefinition, 0, len(list))
	for _, t := range list {
		defs = append(defs, providers.ToolDefinition{
			Name: t.Name(), Description: t.Description(), Parameters: t.Parameters(),
		})
	}
	return defs
}
