package session

import (
	"strings"
	"testing"
	"time"
)

func TestSpawnPTYRejectsEmptyCommand(t *testing.T) {
	if _, err := spawnPTY(spawnOptions{}); err == nil {
		t.Fatal("expected error for an empty command")
	}
}

func TestSpawnPTYReadWriteEcho(t *testing.T) {
	proc, err := spawnPTY(spawnOptions{Command: []string{"cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawnPTY: %v", err)
	}
	if proc.pid() <= 0 {
		t.Fatal("expected a positive pid")
	}

	if err := proc.WriteInput([]byte("ping\r")); err != nil {
		t.Fatalf("WriteInput: %v", err)
	}

	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	var got strings.Builder
	for time.Now().Before(deadline) && !strings.Contains(got.String(), "ping") {
		proc.ptmx.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := proc.Read(buf)
		if n > 0 {
			got.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	if !strings.Contains(got.String(), "ping") {
		t.Fatalf("expected echoed input to contain %q, got %q", "ping", got.String())
	}

	proc.Kill()
	proc.wait()
}

func TestSpawnPTYResize(t *testing.T) {
	proc, err := spawnPTY(spawnOptions{Command: []string{"sleep", "2"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("spawnPTY: %v", err)
	}
	defer func() {
		proc.Kill()
		proc.wait()
	}()

	if err := proc.Resize(120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if err := proc.Resize(0, 40); err == nil {
		t.Fatal("expected Resize to reject a non-positive dimension")
	}
}

func TestSpawnPTYKillIsIdempotentAndGraceful(t *testing.T) {
	proc, err := spawnPTY(spawnOptions{Command: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("spawnPTY: %v", err)
	}

	done := make(chan int, 1)
	go func() { done <- proc.wait() }()

	proc.Kill()
	proc.Kill() // must not panic or double-signal

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("expected the process to be reaped well before the kill grace escalation")
	}

	if err := proc.WriteInput([]byte("x")); err == nil {
		t.Error("expected WriteInput to fail on a killed session")
	}
}

func TestSpawnPTYExitCode(t *testing.T) {
	proc, err := spawnPTY(spawnOptions{Command: []string{"sh", "-c", "exit 7"}})
	if err != nil {
		t.Fatalf("spawnPTY: %v", err)
	}
	code := proc.wait()
	if code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
}
