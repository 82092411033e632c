package server

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleFSEvent_AgentFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.agentuse")
	if err := os.WriteFile(path, []byte("---\nmodel: x\n---\nbody"), 0o644); err != nil {
		t.Fatal(err)
	}

	var got []AgentFileEvent
	record := func(ev AgentFileEvent) { got = append(got, ev) }

	handleFSEvent(nil, fsnotify.Event{Name: path, Op: fsnotify.Create}, discardLogger(), record)
	handleFSEvent(nil, fsnotify.Event{Name: path, Op: fsnotify.Write}, discardLogger(), record)
	handleFSEvent(nil, fsnotify.Event{Name: path, Op: fsnotify.Remove}, discardLogger(), record)

	if len(got) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(got), got)
	}
	if got[0].Op != "add" || got[1].Op != "change" || got[2].Op != "remove" {
		t.Fatalf("ops = %v", []string{got[0].Op, got[1].Op, got[2].Op})
	}
}

func TestHandleFSEvent_IgnoresNonAgentFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	called := false
	handleFSEvent(nil, fsnotify.Event{Name: path, Op: fsnotify.Write}, discardLogger(), func(AgentFileEvent) { called = true })
	if called {
		t.Fatal("expected non-.agentuse files to be ignored")
	}
}
