// Package mcp implements the MCP supervisor (C3): it launches tool-provider
// subprocesses or HTTP sessions, exposes their tools and resources through
// the core tools.Tool interface, and owns their lifetime for one execution —
// closing every connection on every exit path, per spec.md §4.3.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/agentuse/agentuse/internal/agentfile"
	"github.com/agentuse/agentuse/internal/tools"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// ServerStatus reports the connection status of one MCP provider.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"toolCount"`
	Error     string `json:"error,omitempty"`
}

type serverState struct {
	name      string
	transport string
	client    *mcpclient.Client
	connected atomic.Bool
	toolNames []string
	cancel    context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Manager supervises one execution's set of MCP provider connections.
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*serverState
	registry *tools.Registry
}

// NewManager builds a supervisor that registers provider tools into registry.
func NewManager(registry *tools.Registry) *Manager {
	return &Manager{servers: make(map[string]*serverState), registry: registry}
}

// Start launches every configured provider concurrently, isolating
// per-provider failures: one provider's connect error does not prevent the
// others from starting (spec.md §4.3 "partial failure allowed").
func (m *Manager) Start(ctx context.Context, specs map[string]*agentfile.MCPServerSpec) error {
	g, gctx := errgroup.WithContext(ctx)
	var failures sync.Map

	for name, spec := range specs {
		name, spec := name, spec
		g.Go(func() error {
			if err := m.connect(gctx, name, spec); err != nil {
				slog.Warn("mcp.server.connect_failed", "server", name, "error", err)
				failures.Store(name, err)
			}
			return nil // never fail the group; errors are reported, not fatal
		})
	}
	_ = g.Wait()

	var failed []string
	failures.Range(func(k, v any) bool { failed = append(failed, k.(string)); return true })
	if len(failed) > 0 {
		return fmt.Errorf("mcp providers failed to connect: %v", failed)
	}
	return nil
}

func (m *Manager) connect(ctx context.Context, name string, spec *agentfile.MCPServerSpec) error {
	client, transportName, err := newClient(spec)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	if transportName != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "agentuse", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	toolsResult, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	ss := &serverState{name: name, transport: transportName, client: client}
	ss.connected.Store(true)

	var registered []string
	for _, mcpTool := range toolsResult.Tools {
		bt := NewBridgeTool(name, mcpTool, client)
		if _, exists := m.registry.Get(bt.Name()); exists {
			slog.Warn("mcp.tool.name_collision", "server", name, "tool", bt.Name())
			continue
		}
		m.registry.Register(bt)
		registered = append(registered, bt.Name())
	}

	// Project resources as two synthetic tools per provider, per spec.md §4.3.
	if resTools := m.buildResourceTools(ctx, name, client); len(resTools) > 0 {
		for _, t := range resTools {
			if m.registry.Register(t) {
				registered = append(registered, t.Name())
			}
		}
	}
	ss.toolNames = registered

	hctx, hcancel := context.WithCancel(context.Background())
	ss.cancel = hcancel
	go m.healthLoop(hctx, ss)

	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()

	slog.Info("mcp.server.connected", "server", name, "transport", transportName, "tools", len(registered))
	return nil
}

// Close shuts down every connection opened by this manager, swallowing
// individual close errors, per spec.md §4.3/§5 ("closed deterministically
// on every exit path").
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				slog.Debug("mcp.server.close_error", "server", name, "error", err)
			}
		}
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
	}
	m.servers = make(map[string]*serverState)
}

// Status reports the live connection state of every provider.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		out = append(out, ServerStatus{
			Name: ss.name, Transport: ss.transport, Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames), Error: lastErr,
		})
	}
	return out
}

func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ss.client.Ping(ctx); err != nil {
				ss.connected.Store(false)
				ss.mu.Lock()
				ss.lastErr = err.Error()
				ss.mu.Unlock()
				slog.Warn("mcp.server.health_failed", "server", ss.name, "error", err)
				m.tryReconnect(ctx, ss)
				continue
			}
			ss.connected.Store(true)
			ss.mu.Lock()
			ss.reconnAttempts = 0
			ss.lastErr = ""
			ss.mu.Unlock()
		}
	}
}

func (m *Manager) tryReconnect(ctx context.Context, ss *serverState) {
	ss.mu.Lock()
	if ss.reconnAttempts >= maxReconnectAttempts {
		ss.mu.Unlock()
		slog.Error("mcp.server.reconnect_exhausted", "server", ss.name)
		return
	}
	ss.reconnAttempts++
	attempt := ss.reconnAttempts
	ss.mu.Unlock()

	backoff := initialBackoff * time.Duration(1<<(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	slog.Info("mcp.server.reconnecting", "server", ss.name, "attempt", attempt, "backoff", backoff)

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	if err := ss.client.Ping(ctx); err == nil {
		ss.connected.Store(true)
		ss.mu.Lock()
		ss.reconnAttempts = 0
		ss.mu.Unlock()
		slog.Info("mcp.server.reconnected", "server", ss.name)
	}
}
