package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/agentuse/agentuse/internal/engine"
	wireworker "github.com/agentuse/agentuse/internal/worker"
)

// workerRequestFrame is one line read from stdin in worker mode. Its id,
// agentFile, input and context fields are internal/worker.Request's wire
// shape; type and timeout are read when present, but Request has no such
// fields, so frames from the server never carry them.
type workerRequestFrame struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	AgentFile string         `json:"agentFile"`
	Input     string         `json:"input"`
	Context   map[string]any `json:"context,omitempty"`
	Timeout   int            `json:"timeout,omitempty"`
}

// runWorkerMode implements the child side of the worker IPC protocol (C9):
// it signals readiness, then for every newline-delimited JSON request on
// stdin performs a full execution and streams internal/worker.Response
// frames back on stdout, one per engine event plus a final Done frame.
func runWorkerMode() error {
	out := bufio.NewWriter(os.Stdout)
	enc := json.NewEncoder(out)

	writeFrame := func(resp wireworker.Response) {
		_ = enc.Encode(resp)
		_ = out.Flush()
	}

	writeFrame(wireworker.Response{Ready: true})

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req workerRequestFrame
		if err := json.Unmarshal(line, &req); err != nil {
			slog.Error("worker.request.decode_failed", "error", err)
			continue
		}
		handleWorkerRequest(req, writeFrame)
	}
	return scanner.Err()
}

func handleWorkerRequest(req workerRequestFrame, writeFrame func(wireworker.Response)) {
	ctx := context.Background()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Second)
		defer cancel()
	}

	events, err := runExecution(ctx, runRequest{AgentPath: req.AgentFile, Input: req.Input, Context: req.Context})
	if err != nil {
		writeFrame(wireworker.Response{ID: req.ID, Done: true, Error: err.Error()})
		return
	}

	start := time.Now()
	var finalText string
	var toolCalls int
	var usage map[string]any

	for ev := range events {
		writeFrame(wireworker.Response{ID: req.ID, Event: eventToMap(ev)})
		switch ev.Type {
		case engine.EventText:
			finalText += ev.Text
		case engine.EventToolCall:
			toolCalls++
		case engine.EventFinish:
			if ev.Usage != nil {
				usage = map[string]any{
					"promptTokens":     ev.Usage.PromptTokens,
					"completionTokens": ev.Usage.CompletionTokens,
					"totalTokens":      ev.Usage.TotalTokens,
				}
			}
		case engine.EventError:
			writeFrame(wireworker.Response{ID: req.ID, Done: true, Error: ev.Err.Error()})
			return
		}
	}

	writeFrame(wireworker.Response{ID: req.ID, Done: true, Event: map[string]any{
		"text":       finalText,
		"toolCalls":  toolCalls,
		"durationMs": time.Since(start).Milliseconds(),
		"usage":      usage,
	}})
}

// eventToMap flattens one engine.Event into the generic shape the worker
// wire protocol carries (internal/worker.Response.Event is map[string]any).
func eventToMap(ev engine.Event) map[string]any {
	m := map[string]any{"type": string(ev.Type)}
	switch ev.Type {
	case engine.EventText:
		m["text"] = ev.Text
	case engine.EventToolCall:
		m["toolCall"] = map[string]any{
			"id": ev.ToolCall.ID, "name": ev.ToolCall.Name, "input": ev.ToolCall.Input,
			"isSubAgent": ev.ToolCall.IsSubAgent, "step": ev.ToolCall.StepNumber,
		}
	case engine.EventToolResult, engine.EventToolError:
		m["toolResult"] = map[string]any{
			"id": ev.ToolResult.ID, "name": ev.ToolResult.Name, "output": ev.ToolResult.Output,
			"isError": ev.ToolResult.IsError, "durationMs": ev.ToolResult.Duration,
		}
	case engine.EventWarning:
		m["warning"] = ev.Warning
	case engine.EventFinish:
		m["finishReason"] = string(ev.FinishReason)
	case engine.EventError:
		m["error"] = fmt.Sprint(ev.Err)
	}
	return m
}
