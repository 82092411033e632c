package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentuse/agentuse/internal/agentfile"
	ctxmgr "github.com/agentuse/agentuse/internal/context"
	"github.com/agentuse/agentuse/internal/engine"
	"github.com/agentuse/agentuse/internal/envpolicy"
	"github.com/agentuse/agentuse/internal/mcp"
	"github.com/agentuse/agentuse/internal/providers"
	"github.com/agentuse/agentuse/internal/session"
	"github.com/agentuse/agentuse/internal/subagent"
	"github.com/agentuse/agentuse/internal/tools"
	"github.com/oklog/ulid/v2"
)

// runRequest is one request to execute an agent file to completion. It is
// the composition-root shape runWorkerMode (stdio) and the scheduler's
// Runner callback both funnel into.
type runRequest struct {
	AgentPath string
	Input     string
	Context   map[string]any
}

// runExecution wires every component spec.md §2's data flow names for one
// agent file — provider resolution, built-in tools, MCP providers,
// sub-agents, and the session log — and returns the execution core's event
// stream. The returned channel is closed once the run (and its cleanup) is
// complete.
func runExecution(ctx context.Context, req runRequest) (<-chan engine.Event, error) {
	agent, err := agentfile.Load(req.AgentPath)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if report := envpolicy.Check(agent); report.HasMissing() {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(report.Missing, ", "))
	}

	registry := providers.NewRegistry()
	registerProviders(registry)
	provider, model, err := registry.Resolve(agent.Config.Model)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}

	projectRoot := filepath.Dir(req.AgentPath)
	toolReg := tools.NewRegistry()
	for _, t := range tools.BuildBuiltins(projectRoot, agent.Config.Tools, agent.Name) {
		toolReg.Register(t)
	}

	var mgr *mcp.Manager
	if len(agent.Config.MCPServers) > 0 {
		mgr = mcp.NewManager(toolReg)
		if err := mgr.Start(ctx, agent.Config.MCPServers); err != nil {
			slog.Warn("mcp.start_partial_failure", "agent", agent.Name, "error", err)
		}
	}

	sessions := session.NewManager(projectRoot)
	composer := subagent.New(registry, sessions, 0)
	subAgentNames := map[string]bool{}
	for _, spec := range agent.Config.Subagents {
		tool, err := composer.BuildTool(req.AgentPath, spec, nil, 0, "", "")
		if err != nil {
			if mgr != nil {
				mgr.Close()
			}
			return nil, fmt.Errorf("build sub-agent tool: %w", err)
		}
		if !toolReg.Register(tool) {
			if mgr != nil {
				mgr.Close()
			}
			return nil, fmt.Errorf("duplicate tool name %q", tool.Name())
		}
		subAgentNames[tool.Name()] = true
	}

	userMessage := agent.Instructions
	if req.Input != "" {
		userMessage += "\n\n## Input\n" + req.Input
	}

	sess, sessErr := sessions.Start(req.AgentPath, "", map[string]any{"model": agent.Config.Model})
	if sessErr != nil {
		slog.Warn("session.start_failed", "agent", agent.Name, "error", sessErr)
	}

	events := engine.Execute(ctx, engine.Config{
		Provider:       provider,
		Model:          model,
		Tools:          toolReg,
		UserMessage:    userMessage,
		MaxSteps:       agent.Config.MaxSteps,
		ContextManager: ctxmgr.New(providers.ContextWindow(model), 0, 0),
		SubAgentNames:  subAgentNames,
		DoomLoop:       engine.DefaultDoomLoopConfig(),
	})

	out := make(chan engine.Event, 8)
	go func() {
		defer close(out)
		defer func() {
			if mgr != nil {
				mgr.Close()
			}
		}()

		status := session.StatusCompleted
		errMsg := ""
		for ev := range events {
			if ev.Type == engine.EventError {
				status = session.StatusFailed
				errMsg = ev.Err.Error()
			}
			if sess != nil {
				persistEvent(sessions, sess, ev)
			}
			out <- ev
		}
		if sess != nil {
			if err := sessions.Complete(sess.AgentID, sess.ID, status, errMsg); err != nil {
				slog.Warn("session.complete_failed", "agent", agent.Name, "error", err)
			}
		}
	}()

	return out, nil
}

// persistEvent appends the session.MessageRecord an engine.Event implies,
// matching invariant 1 (every tool-call has a matching tool-result before
// the next llm-start) in the persisted log.
func persistEvent(sessions *session.Manager, sess *session.Session, ev engine.Event) {
	var rec session.MessageRecord
	switch ev.Type {
	case engine.EventText:
		if ev.Text == "" {
			return
		}
		rec = session.MessageRecord{Role: "assistant", Parts: []session.Part{{Type: "text", Text: ev.Text}}}
	case engine.EventToolCall:
		rec = session.MessageRecord{Role: "assistant", Parts: []session.Part{{
			Type: "tool-call", ToolCallID: ev.ToolCall.ID, ToolName: ev.ToolCall.Name, Input: ev.ToolCall.Input,
		}}}
	case engine.EventToolResult, engine.EventToolError:
		rec = session.MessageRecord{Role: "tool", Parts: []session.Part{{
			Type: "tool-result", ToolCallID: ev.ToolResult.ID, ToolName: ev.ToolResult.Name,
			Output: ev.ToolResult.Output, IsError: ev.ToolResult.IsError,
		}}}
	default:
		return
	}
	rec.ID = ulid.Make().String()
	rec.Time = time.Now().UTC()
	if err := sessions.Append(sess.AgentID, sess.ID, rec); err != nil {
		slog.Warn("session.append_failed", "session", sess.ID, "error", err)
	}
}
