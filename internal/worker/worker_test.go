package worker

import (
	"context"
	"testing"
	"time"
)

// echoWorkerScript is a minimal stdio worker: it sends a ready frame, then
// for any request frame it reads, reflects the input back as a single
// done frame carrying the same id.
const echoWorkerScript = `
printf '{"ready":true}\n'
while IFS= read -r req; do
  id=$(printf '%s' "$req" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  printf '{"id":"%s","done":true,"event":{"text":"echo"}}\n' "$id"
done
`

func spawnEcho(t *testing.T) *Worker {
	t.Helper()
	w, err := Spawn(context.Background(), "/bin/sh", []string{"-c", echoWorkerScript}, nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() { _ = w.Kill() })
	return w
}

func TestWorker_ReadyHandshakeThenEcho(t *testing.T) {
	w := spawnEcho(t)
	if !w.Alive() {
		t.Fatal("worker not alive after successful handshake")
	}

	ch, err := w.Send(Request{ID: "1", Input: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case resp := <-ch:
		if resp.ID != "1" || !resp.Done {
			t.Errorf("resp = %+v, want done frame for id 1", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker response")
	}
}

func TestWorker_KillMarksDead(t *testing.T) {
	w := spawnEcho(t)
	if err := w.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if w.Alive() {
		t.Error("Alive() = true after Kill")
	}
	if _, err := w.Send(Request{ID: "2"}); err == nil {
		t.Error("Send after Kill: want error")
	}
}

func TestSpawn_FailsWithoutReadyHandshake(t *testing.T) {
	_, err := Spawn(context.Background(), "/bin/sh", []string{"-c", "printf 'not json\\n'"}, nil, nil)
	if err == nil {
		t.Fatal("expected error when worker's first frame is not a ready handshake")
	}
}
