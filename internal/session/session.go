// Package session implements the session store (C7): an append-only,
// atomically-written on-disk log of every message and tool-call part for
// one execution, organized under <project>/.agentuse/sessions/, per
// spec.md §4.7.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Session is the persisted form of one execution's metadata, per spec.md §3.
type Session struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agentId"`
	ParentSessionID string         `json:"parentSessionId,omitempty"`
	StartedAt       time.Time      `json:"startedAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	Status          Status         `json:"status"`
	Error           string         `json:"error,omitempty"`
	ConfigSnapshot  map[string]any `json:"config,omitempty"`
}

// Part is one piece of a message's content, per spec.md §3.
type Part struct {
	Type       string         `json:"type"` // "text" | "tool-call" | "tool-result" | "reasoning"
	Text       string         `json:"text,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	IsError    bool           `json:"isError,omitempty"`
}

// MessageRecord is one entry in a session's ordered message log.
type MessageRecord struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Role   string    `json:"role"`
	Parts  []Part    `json:"parts"`
	Tokens *int      `json:"tokens,omitempty"`
}

// AgentIDFromPath derives a deterministic, filesystem-safe id from an agent
// file's path, per spec.md §3 ("agentId (deterministic id from file path)").
func AgentIDFromPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return hex.EncodeToString(sum[:])[:16]
}

// Manager creates and appends to sessions rooted at a project directory.
type Manager struct {
	root string

	mu      sync.Mutex
	current string
}

// NewManager roots the session store at <projectRoot>/.agentuse/sessions.
func NewManager(projectRoot string) *Manager {
	return &Manager{root: filepath.Join(projectRoot, ".agentuse", "sessions")}
}

func (m *Manager) dir(agentID, sessionID string) string {
	return filepath.Join(m.root, agentID, sessionID)
}

// Start creates a new running session and returns it. Session ids are
// ULIDs, which sort lexicographically by creation time (spec.md §3
// "id (sortable)").
func (m *Manager) Start(agentPath, parentSessionID string, configSnapshot map[string]any) (*Session, error) {
	agentID := AgentIDFromPath(agentPath)
	sess := &Session{
		ID:              ulid.Make().String(),
		AgentID:         agentID,
		ParentSessionID: parentSessionID,
		StartedAt:       time.Now().UTC(),
		Status:          StatusRunning,
		ConfigSnapshot:  configSnapshot,
	}

	dir := m.dir(agentID, sess.ID)
	if err := os.MkdirAll(filepath.Join(dir, "messages"), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	cleanupPartialWrites(dir)
	if err := m.writeInfo(dir, sess); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = sess.ID
	m.mu.Unlock()

	return sess, nil
}

// Current returns the id of the most recently started session, for
// streaming callers that persist events as they're emitted.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Append writes one message record to the session, atomically, per
// invariant 6.
func (m *Manager) Append(agentID, sessionID string, msg MessageRecord) error {
	dir := m.dir(agentID, sessionID)
	path := filepath.Join(dir, "messages", msg.ID+".json")
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, data)
}

// Complete marks a session finished. completedAt is set iff status is not
// running, per invariant 4.
func (m *Manager) Complete(agentID, sessionID string, status Status, errMsg string) error {
	dir := m.dir(agentID, sessionID)
	sess, err := m.readInfo(dir)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	sess.Status = status
	sess.CompletedAt = &now
	sess.Error = errMsg
	return m.writeInfo(dir, sess)
}

// Load reproduces a session's metadata and ordered message log from disk.
func (m *Manager) Load(agentID, sessionID string) (*Session, []MessageRecord, error) {
	dir := m.dir(agentID, sessionID)
	sess, err := m.readInfo(dir)
	if err != nil {
		return nil, nil, err
	}

	entries, err := os.ReadDir(filepath.Join(dir, "messages"))
	if err != nil {
		if os.IsNotExist(err) {
			return sess, nil, nil
		}
		return nil, nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	messages := make([]MessageRecord, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, "messages", name))
		if err != nil {
			continue // unreadable entry: skipped; Load does not remove leftover files
		}
		var msg MessageRecord
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return sess, messages, nil
}

func (m *Manager) writeInfo(dir string, sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, "info.json"), data)
}

func (m *Manager) readInfo(dir string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(dir, "info.json"))
	if err != nil {
		return nil, fmt.Errorf("read session info: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session info: %w", err)
	}
	return &sess, nil
}

// cleanupPartialWrites removes leftover tempfiles from a crash mid-write,
// per spec.md §4.7 "partially written temp files are cleaned at next access".
func cleanupPartialWrites(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if len(e.Name()) > 5 && e.Name()[:5] == ".tmp-" {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

// atomicWrite writes data to a tempfile in dir's directory then renames it
// over path, per invariant 6.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
