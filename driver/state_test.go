package driver

import (
	"os"
	"testing"
	"time"
)

func TestSaveLoadRemoveState(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	info := &SessionInfo{
		SessionID: "abc123",
		Pid:       4242,
		Command:   []string{"make", "-j8"},
		StartedAt: time.Now().Truncate(time.Second),
	}
	if err := saveState(info); err != nil {
		t.Fatalf("saveState: %v", err)
	}

	sessions, err := ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "abc123" {
		t.Fatalf("ListSessions = %+v, want one entry for abc123", sessions)
	}
	if sessions[0].Pid != 4242 {
		t.Errorf("Pid = %d, want 4242", sessions[0].Pid)
	}

	if err := removeState("abc123"); err != nil {
		t.Fatalf("removeState: %v", err)
	}
	sessions, err = ListSessions()
	if err != nil {
		t.Fatalf("ListSessions after remove: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("ListSessions after remove = %+v, want empty", sessions)
	}
}

func TestListSessionsEmptyRegistry(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	sessions, err := ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("ListSessions on empty registry = %+v, want empty", sessions)
	}
}

func TestListSessionsSkipsCorruptEntries(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	badDir := registryDir() + "/corrupt"
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(badDir+"/state.json", []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := saveState(&SessionInfo{SessionID: "good", StartedAt: time.Now()}); err != nil {
		t.Fatalf("saveState: %v", err)
	}

	sessions, err := ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "good" {
		t.Fatalf("ListSessions = %+v, want only the valid entry", sessions)
	}
}

func TestNewSessionIDIsUnique(t *testing.T) {
	a, err := newSessionID()
	if err != nil {
		t.Fatalf("newSessionID: %v", err)
	}
	b, err := newSessionID()
	if err != nil {
		t.Fatalf("newSessionID: %v", err)
	}
	if a == b {
		t.Errorf("newSessionID returned the same id twice: %q", a)
	}
}
