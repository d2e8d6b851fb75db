package driver

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fspy-go/platform"
)

// newSessionID returns a short random hex identifier for the session
// registry, analogous to the container ID an OCI runtime is handed by
// its caller — but here nothing hands us one, so we mint it.
func newSessionID() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("driver: generate session id: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// SessionInfo is the session registry record persisted to disk for the
// lifetime of a live trace, so a second process (`cmd ps`) can list
// what is currently running. Adapted from the teacher's
// spec.ContainerState/State split: SessionInfo plays the role of the
// on-disk record, minus every OCI container-lifecycle field this
// domain has no use for (rootfs, bundle, annotations, owner).
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Pid       int       `json:"pid"`
	Command   []string  `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

func registryDir() string {
	return platform.RuntimeDir()
}

func statePath(sessionID string) string {
	return filepath.Join(registryDir(), sessionID, "state.json")
}

// saveState writes info atomically via the teacher's temp-file-then-
// rename pattern (spec/state.go's ContainerState.Save), so a reader
// never observes a partially written file.
func saveState(info *SessionInfo) error {
	dir := filepath.Dir(statePath(info.SessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("driver: create session registry dir: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("driver: marshal session state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("driver: create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("driver: write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("driver: sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("driver: close state: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("driver: chmod state: %w", err)
	}
	if err := os.Rename(tmpPath, statePath(info.SessionID)); err != nil {
		return fmt.Errorf("driver: rename state into place: %w", err)
	}

	success = true
	return nil
}

// removeState deletes a session's registry entry. Called once the
// session's child has been waited on; a missing entry is not an error,
// since Cancel followed by a second removal attempt is harmless.
func removeState(sessionID string) error {
	err := os.RemoveAll(filepath.Dir(statePath(sessionID)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("driver: remove session state: %w", err)
	}
	return nil
}

// ListSessions reads every live session's registry entry. Used by the
// `ps` command; a corrupt or concurrently removed entry is skipped
// rather than failing the whole listing.
func ListSessions() ([]SessionInfo, error) {
	entries, err := os.ReadDir(registryDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("driver: read session registry: %w", err)
	}

	var sessions []SessionInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(registryDir(), e.Name(), "state.json"))
		if err != nil {
			continue
		}
		var info SessionInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		sessions = append(sessions, info)
	}
	return sessions, nil
}
