package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// lockContent is the JSON body written into a lock file: the holder PID plus
// a human-readable reason (spec §4.7 step 4: "carries a truncated prompt as
// a human-readable reason").
type lockContent struct {
	PID    int    `json:"pid"`
	Reason string `json:"reason,omitempty"`
}

// ToolLock guards exclusive access to locks/<tool>.lock for one session.
type ToolLock struct {
	path string
	fl   *flock.Flock
}

// toolLockPath returns "<sessionDir>/locks/<tool>.lock".
func toolLockPath(sessionDir, tool string) string {
	return filepath.Join(sessionDir, "locks", tool+".lock")
}

// AcquireToolLock attempts to exclusively lock locks/<tool>.lock for
// sessionDir, writing the holder PID and reason into the lock file content.
// Returns ErrLockHeld if another process already holds it.
func AcquireToolLock(sessionDir, tool, reason string) (*ToolLock, error) {
	dir := filepath.Join(sessionDir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}

	path := toolLockPath(sessionDir, tool)
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	content := lockContent{PID: os.Getpid(), Reason: reason}
	data, err := json.Marshal(content)
	if err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("marshal lock content: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("write lock content: %w", err)
	}

	return &ToolLock{path: path, fl: fl}, nil
}

// Release drops the lock. Safe to call multiple times.
func (t *ToolLock) Release() error {
	if t == nil || t.fl == nil {
		return nil
	}
	return t.fl.Unlock()
}

// ReadLockPID returns the PID recorded in a lock file, or 0 if unreadable.
func ReadLockPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var content lockContent
	if err := json.Unmarshal(data, &content); err != nil {
		return 0
	}
	return content.PID
}
