package registry

import (
	"os"
	"testing"
	"time"
)

func TestWriteListRemove(t *testing.T) {
	reg, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	entry := Entry{
		PID:         os.Getpid(),
		Port:        8080,
		Host:        "127.0.0.1",
		ProjectRoot: "/tmp/project",
		StartTime:   time.Now().UTC(),
		Version:     "test",
	}
	if err := reg.Write(entry); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("List returned %d entries, want 1", len(entries))
	}
	if entries[0].PID != entry.PID || entries[0].Port != entry.Port {
		t.Errorf("List()[0] = %+v, want matching %+v", entries[0], entry)
	}

	if err := reg.Remove(entry.PID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	entries, err = reg.List()
	if err != nil {
		t.Fatalf("List after Remove: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List after Remove = %d entries, want 0", len(entries))
	}
}

func TestList_DropsStaleEntries(t *testing.T) {
	reg, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// A pid astronomically unlikely to be alive.
	stale := Entry{PID: 999999, StartTime: time.Now().UTC()}
	if err := reg.Write(stale); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List() = %+v, want stale entry dropped", entries)
	}
}

func TestRegisterUnregister(t *testing.T) {
	reg, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	handle, err := reg.Register("/tmp/project/agent.agentuse", os.Getpid())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	entries, _ := reg.List()
	if len(entries) != 1 {
		t.Fatalf("List after Register = %d entries, want 1", len(entries))
	}
	if err := reg.Unregister(handle); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	entries, _ = reg.List()
	if len(entries) != 0 {
		t.Errorf("List after Unregister = %d entries, want 0", len(entries))
	}
}

func TestRemove_MissingIsNotError(t *testing.T) {
	reg, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := reg.Remove(123456); err != nil {
		t.Errorf("Remove of missing entry: %v, want nil", err)
	}
}
