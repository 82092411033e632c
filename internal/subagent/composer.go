// Package subagent implements the sub-agent composer (C6): it turns
// another agent file into a tool, runs it as a full nested execution with
// its own provider set and step cap, and enforces the cycle guard and depth
// cap spec.md §4.6 and invariant 3 require.
package subagent

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/agentuse/agentuse/internal/agentfile"
	ctxmgr "github.com/agentuse/agentuse/internal/context"
	"github.com/agentuse/agentuse/internal/engine"
	"github.com/agentuse/agentuse/internal/mcp"
	"github.com/agentuse/agentuse/internal/providers"
	"github.com/agentuse/agentuse/internal/session"
	"github.com/agentuse/agentuse/internal/tools"
)

// DefaultMaxDepth is spec.md §3's stated default sub-agent depth cap.
const DefaultMaxDepth = 2

var nameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Composer builds sub-agent tools and runs their nested executions.
type Composer struct {
	Providers *providers.Registry
	Sessions  *session.Manager
	MaxDepth  int
}

// New builds a Composer with spec.md's default depth cap when maxDepth <= 0.
func New(registry *providers.Registry, sessions *session.Manager, maxDepth int) *Composer {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Composer{Providers: registry, Sessions: sessions, MaxDepth: maxDepth}
}

// callFrame is one entry in the active invocation chain, used both for
// cycle detection and for naming the chain in a cycle error.
type callFrame struct {
	path  string
	label string
}

// BuildTool resolves spec.Path relative to parentDir, checks it is not
// already on callStack (cycle guard), and returns a tool.Tool whose
// Execute runs a full nested execution. No MCP or model call is made
// until the tool is actually invoked, per spec.md §3 scenario S5.
func (c *Composer) BuildTool(parentPath string, spec agentfile.SubagentSpec, callStack []callFrame, depth int, parentModelOverride string, parentSessionID string) (tools.Tool, error) {
	resolved := spec.Path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(parentPath), resolved)
	}
	resolved = filepath.Clean(resolved)

	for _, frame := range callStack {
		if frame.path == resolved {
			return nil, cycleError(callStack, resolved)
		}
	}
	if depth >= c.MaxDepth {
		return nil, fmt.Errorf("sub-agent depth exceeds max (%d): %s", c.MaxDepth, resolved)
	}

	name := spec.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(resolved), ".agentuse")
	}
	toolName := "subagent__" + nameSanitizer.ReplaceAllString(name, "_")

	return &subAgentTool{
		composer:             c,
		name:                 toolName,
		path:                 resolved,
		maxSteps:             spec.MaxSteps,
		callStack:            append(append([]callFrame{}, callStack...), callFrame{path: resolved, label: name}),
		depth:                depth + 1,
		parentModelOverride:  parentModelOverride,
		parentSessionID:      parentSessionID,
	}, nil
}

func cycleError(callStack []callFrame, repeated string) error {
	var chain []string
	for _, f := range callStack {
		chain = append(chain, filepath.Base(f.path))
	}
	chain = append(chain, filepath.Base(repeated))
	return fmt.Errorf("sub-agent cycle detected: %s", strings.Join(chain, " → "))
}

type subAgentTool struct {
	composer             *Composer
	name                 string
	path                 string
	maxSteps             int
	callStack            []callFrame
	depth                int
	parentModelOverride  string
	parentSessionID      string
}

func (t *subAgentTool) Name() string { return t.name }
func (t *subAgentTool) Description() string {
	return fmt.Sprintf("Invoke the sub-agent defined at %s as a nested task.", filepath.Base(t.path))
}
func (t *subAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task":    map[string]any{"type": "string", "description": "The task to hand to the sub-agent"},
			"context": map[string]any{"type": "string", "description": "Optional extra context for the sub-agent"},
		},
	}
}

func (t *subAgentTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	start := time.Now()

	agent, err := agentfile.Load(t.path)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("sub-agent load failed: %v", err))
	}

	model := agent.Config.Model
	if t.parentModelOverride != "" {
		model = t.parentModelOverride
	}
	provider, modelName, err := t.composer.Providers.Resolve(model)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("sub-agent provider resolve failed: %v", err))
	}

	registry := tools.NewRegistry()
	subAgentNames := map[string]bool{}
	projectRoot := filepath.Dir(t.path)
	for _, bt := range tools.BuildBuiltins(projectRoot, agent.Config.Tools, "") {
		registry.Register(bt)
	}

	if len(agent.Config.MCPServers) > 0 {
		mgr := mcp.NewManager(registry)
		if err := mgr.Start(ctx, agent.Config.MCPServers); err != nil {
			// Partial failure allowed (spec.md §4.3); proceed with whatever connected.
		}
		defer mgr.Close()
	}

	for _, spec := range agent.Config.Subagents {
		nested, err := t.composer.BuildTool(t.path, spec, t.callStack, t.depth, t.parentModelOverride, "")
		if err != nil {
			return tools.ErrorResult(err.Error())
		}
		registry.Register(nested)
		subAgentNames[nested.Name()] = true
	}

	task, _ := args["task"].(string)
	extraContext, _ := args["context"].(string)
	userMessage := agent.Instructions
	if task != "" {
		userMessage += "\n\n## Task\n" + task
	}
	if extraContext != "" {
		userMessage += "\n\n## Context\n" + extraContext
	}

	maxSteps := t.maxSteps
	if maxSteps <= 0 {
		maxSteps = agent.Config.MaxSteps
	}

	var sess *session.Session
	if t.composer.Sessions != nil {
		sess, _ = t.composer.Sessions.Start(t.path, t.parentSessionID, map[string]any{"model": model})
	}

	events := engine.Execute(ctx, engine.Config{
		Provider:       provider,
		Model:          modelName,
		Tools:          registry,
		SystemMessages: nil,
		UserMessage:    userMessage,
		MaxSteps:       maxSteps,
		ContextManager: ctxmgr.New(providers.ContextWindow(modelName), 0, 0),
		SubAgentNames:  subAgentNames,
		DoomLoop:       engine.DefaultDoomLoopConfig(),
	})

	var finalText string
	var usage *providers.Usage
	toolCalls := 0
	var runErr error

	for ev := range events {
		switch ev.Type {
		case engine.EventText:
			finalText += ev.Text
		case engine.EventToolCall:
			toolCalls++
		case engine.EventFinish:
			usage = ev.Usage
		case engine.EventError:
			runErr = ev.Err
		}
	}

	duration := time.Since(start)

	if t.composer.Sessions != nil && sess != nil {
		status := session.StatusCompleted
		errMsg := ""
		if runErr != nil {
			status = session.StatusFailed
			errMsg = runErr.Error()
		}
		_ = t.composer.Sessions.Complete(sess.AgentID, sess.ID, status, errMsg)
	}

	if runErr != nil {
		return tools.ErrorResult(fmt.Sprintf("sub-agent execution failed: %v", runErr))
	}

	result := tools.NewResult(finalText)
	result.WithMetadata("duration", duration.Milliseconds())
	result.WithMetadata("toolCalls", toolCalls)
	if usage != nil {
		result.WithMetadata("tokensUsed", usage.TotalTokens)
	}
	return result
}
