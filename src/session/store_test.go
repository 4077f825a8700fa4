package session

import (
	"os"
	"testing"
)

func TestStoreWriteReadInfoRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.CreateDir("abc123"); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}

	info := &Info{ID: "abc123", Name: "shell", Command: []string{"bash"}, Cols: 80, Rows: 24, Status: StatusRunning, PID: os.Getpid()}
	if err := store.WriteInfo(info); err != nil {
		t.Fatalf("WriteInfo: %v", err)
	}

	got, err := store.ReadInfo("abc123")
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if got.Name != "shell" || got.Cols != 80 || got.PID != os.Getpid() {
		t.Fatalf("unexpected round-tripped info: %+v", got)
	}

	if _, err := os.Stat(store.InfoPath("abc123") + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected the .tmp file to be renamed away, not left behind")
	}
}

func TestStoreListIDsOnlyCountsSessionDirs(t *testing.T) {
	store := NewStore(t.TempDir())

	store.CreateDir("with-info")
	store.WriteInfo(&Info{ID: "with-info", Status: StatusExited})

	// A bare directory with no info.json should not be counted.
	if err := os.MkdirAll(store.Dir("no-info"), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	ids, err := store.ListIDs()
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "with-info" {
		t.Fatalf("expected only [with-info], got %v", ids)
	}
}

func TestStoreListIDsOnMissingControlDir(t *testing.T) {
	store := NewStore(t.TempDir() + "/does-not-exist")
	ids, err := store.ListIDs()
	if err != nil {
		t.Fatalf("expected no error for a missing control dir, got %v", err)
	}
	if ids != nil {
		t.Fatalf("expected nil ids, got %v", ids)
	}
}

func TestStoreRemoveDir(t *testing.T) {
	store := NewStore(t.TempDir())
	store.CreateDir("gone")
	store.WriteInfo(&Info{ID: "gone", Status: StatusExited})

	if err := store.RemoveDir("gone"); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}
	if _, err := store.ReadInfo("gone"); err == nil {
		t.Fatal("expected ReadInfo to fail after RemoveDir")
	}
}

func TestPidAliveForCurrentProcess(t *testing.T) {
	if !pidAlive(os.Getpid()) {
		t.Error("expected the current process to be reported alive")
	}
}

func TestPidAliveForImprobablePID(t *testing.T) {
	if pidAlive(-1) {
		t.Error("expected a non-positive pid to be reported not alive")
	}
}
