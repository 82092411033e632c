// Package server implements the HTTP service (C10): a single POST /run
// endpoint that authenticates a request, validates its declared
// environment against each referenced agent's policy, dispatches the run to
// the server's persistent worker subprocess, and streams the resulting events back as
// either a single JSON document or newline-delimited JSON, per spec.md
// §4.10. It also hosts /health and hot-reloads agent files via fsnotify.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentuse/agentuse/internal/agentfile"
	"github.com/agentuse/agentuse/internal/envpolicy"
	"github.com/agentuse/agentuse/internal/registry"
	"github.com/agentuse/agentuse/internal/scheduler"
	"github.com/agentuse/agentuse/internal/worker"
)

// requestRateLimit/requestRateBurst gate admission to /run, generalizing
// the teacher's ad hoc retry/backoff counters into a token-bucket limiter,
// per spec.md's backpressure note for C10.
const (
	requestRateLimit = 20 // requests per second
	requestRateBurst = 20
)

// Config configures the HTTP service.
type Config struct {
	Addr        string
	Token       string // bearer token; empty disables auth (dev mode)
	ProjectRoot string
	SelfPath    string // path to this binary, re-invoked with --internal-worker

	Registry  *registry.Registry
	Scheduler *scheduler.Scheduler // optional; hot-reloaded as agent files change
	Logger    *slog.Logger
}

// Server is the HTTP service.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	mux     *http.ServeMux
	http    *http.Server
	pool    *worker.Pool
	limiter *rate.Limiter
}

// New builds a Server with its routes registered. The worker subprocess
// itself is not spawned yet — that happens once in Start, bound to the
// lifetime ctx passed there, per spec.md §4.9.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		pool:    worker.NewPool(cfg.SelfPath, []string{"--internal-worker"}, os.Environ(), cfg.Logger),
		limiter: rate.NewLimiter(rate.Limit(requestRateLimit), requestRateBurst),
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/run", s.handleRun)
	return s
}

// Worker returns the server's persistent worker pool, so the scheduler's
// Runner callback can dispatch scheduled firings through the same
// subprocess instead of spawning its own, per spec.md §4.9's "serves all
// subsequent runs."
func (s *Server) Worker() *worker.Pool {
	return s.pool
}

// Start serves until ctx is cancelled, then shuts down gracefully. It
// spawns the persistent worker subprocess (once, bound to ctx's lifetime)
// before accepting requests, and starts the *.agentuse file watcher for
// hot reload, per spec.md §4.9/§4.10.
func (s *Server) Start(ctx context.Context) error {
	if _, err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("spawn worker: %w", err)
	}
	defer s.pool.Close()

	s.http = &http.Server{Addr: s.cfg.Addr, Handler: s.mux}

	s.logger.Info("server.start", "addr", s.cfg.Addr)

	if s.cfg.ProjectRoot != "" {
		if err := watchAgentFiles(ctx, s.cfg.ProjectRoot, s.logger, s.onAgentFileEvent); err != nil {
			s.logger.Warn("server.watch.start_failed", "error", err)
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// onAgentFileEvent reconciles one *.agentuse filesystem change against the
// scheduler: added/changed files with a schedule are (re)registered,
// removed files or files whose schedule was dropped are deregistered, per
// spec.md §4.10/§4.8.
func (s *Server) onAgentFileEvent(ev AgentFileEvent) {
	if s.cfg.Scheduler == nil {
		return
	}
	if ev.Op == "remove" {
		s.cfg.Scheduler.RemoveByAgentPath(ev.Path)
		s.logger.Info("server.agent.removed", "path", ev.Path)
		return
	}

	agent, err := agentfile.Load(ev.Path)
	if err != nil {
		s.logger.Warn("server.agent.reload_failed", "path", ev.Path, "error", err)
		return
	}
	if agent.Config.Schedule == "" {
		s.cfg.Scheduler.RemoveByAgentPath(ev.Path)
		return
	}
	if err := s.cfg.Scheduler.Update(ev.Path, agent.Config.Schedule); err != nil {
		s.logger.Warn("server.agent.schedule_invalid", "path", ev.Path, "error", err)
		return
	}
	s.logger.Info("server.agent.reloaded", "path", ev.Path, "op", ev.Op, "schedule", agent.Config.Schedule)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// runRequest is the POST /run body.
type runRequest struct {
	AgentPath string         `json:"agentPath"`
	Input     string         `json:"input"`
	Context   map[string]any `json:"context,omitempty"`
	Stream    bool           `json:"stream,omitempty"`
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return got == s.cfg.Token
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}
	if req.AgentPath == "" {
		http.Error(w, "agentPath is required", http.StatusBadRequest)
		return
	}

	agentPath := req.AgentPath
	if !filepath.IsAbs(agentPath) {
		agentPath = filepath.Join(s.cfg.ProjectRoot, agentPath)
	}
	if _, err := os.Stat(agentPath); err != nil {
		http.Error(w, fmt.Sprintf("agent file not found: %v", err), http.StatusNotFound)
		return
	}

	agent, err := agentfile.Load(agentPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("load agent: %v", err), http.StatusBadRequest)
		return
	}
	if report := envpolicy.Check(agent); report.HasMissing() {
		http.Error(w, fmt.Sprintf("missing required environment variables: %s", strings.Join(report.Missing, ", ")), http.StatusPreconditionFailed)
		return
	}

	ctx := r.Context()
	w2, err := s.pool.Get(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("spawn worker: %v", err), http.StatusInternalServerError)
		return
	}

	var handle *registry.Handle
	if s.cfg.Registry != nil {
		handle, err = s.cfg.Registry.Register(agentPath, w2.PID())
		if err == nil {
			defer s.cfg.Registry.Unregister(handle)
		}
	}

	events, err := w2.Send(worker.Request{ID: requestID(r), AgentFile: agentPath, Input: req.Input, Context: req.Context})
	if err != nil {
		http.Error(w, fmt.Sprintf("dispatch to worker: %v", err), http.StatusBadGateway)
		return
	}

	if req.Stream {
		s.streamNDJSON(w, r, events)
		return
	}
	s.collectJSON(w, events)
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// streamNDJSON writes one JSON line per event as it arrives, flushing
// after each, and stops early if the client disconnects.
func (s *Server) streamNDJSON(w http.ResponseWriter, r *http.Request, events <-chan worker.Response) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case resp, ok := <-events:
			if !ok {
				return
			}
			_ = enc.Encode(resp)
			if flusher != nil {
				flusher.Flush()
			}
			if resp.Done {
				return
			}
		}
	}
}

// collectJSON buffers every event and responds with one JSON array once
// the run completes.
func (s *Server) collectJSON(w http.ResponseWriter, events <-chan worker.Response) {
	var all []worker.Response
	for resp := range events {
		all = append(all, resp)
		if resp.Done {
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(all)
}
