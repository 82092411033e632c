package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// AgentFileEvent is one filesystem change to a *.agentuse file, dispatched
// by watchAgentFiles, per spec.md §4.10's hot-reload requirement.
type AgentFileEvent struct {
	Path string
	Op   string // "add" | "change" | "remove"
}

// watchAgentFiles recursively watches every directory under root for
// *.agentuse file changes and calls onEvent for each, until ctx is
// cancelled. Grounded on the teacher pack's fsnotify watcher shape
// (AlexsJones-kubeclaw's internal/ipc/watcher.go): one fsnotify.Watcher,
// directories added explicitly (fsnotify does not recurse on its own), new
// subdirectories picked up as they're created.
func watchAgentFiles(ctx context.Context, root string, logger *slog.Logger, onEvent func(AgentFileEvent)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := addRecursive(fsw, root); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				handleFSEvent(fsw, ev, logger, onEvent)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Error("server.watch.error", "error", err)
			}
		}
	}()

	return nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best effort: an unreadable subtree doesn't stop the rest
		}
		if info.IsDir() && !strings.HasPrefix(info.Name(), ".") {
			return fsw.Add(path)
		}
		return nil
	})
}

func handleFSEvent(fsw *fsnotify.Watcher, ev fsnotify.Event, logger *slog.Logger, onEvent func(AgentFileEvent)) {
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && ev.Has(fsnotify.Create) {
		if err := fsw.Add(ev.Name); err != nil {
			logger.Warn("server.watch.add_dir_failed", "path", ev.Name, "error", err)
		}
		return
	}
	if !strings.HasSuffix(ev.Name, ".agentuse") {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		onEvent(AgentFileEvent{Path: ev.Name, Op: "add"})
	case ev.Has(fsnotify.Write):
		onEvent(AgentFileEvent{Path: ev.Name, Op: "change"})
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		onEvent(AgentFileEvent{Path: ev.Name, Op: "remove"})
	}
}
