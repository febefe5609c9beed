package gc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/csa-project/csa/internal/session"
)

func newProject(t *testing.T) (string, *session.Store) {
	t.Helper()
	root := t.TempDir()
	return root, session.NewStore(root)
}

func TestRunProject_RemovesEmptySession(t *testing.T) {
	root, store := newProject(t)
	sess, err := store.CreateSession("/tmp/proj", "", nil, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sum, err := RunProject(root, Config{RetentionDays: 7})
	if err != nil {
		t.Fatalf("RunProject: %v", err)
	}
	if sum.EmptySessionsRemoved != 1 {
		t.Errorf("EmptySessionsRemoved = %d, want 1", sum.EmptySessionsRemoved)
	}
	if _, err := store.LoadSession(sess.ID); err == nil {
		t.Error("expected session to be removed")
	}
}

func TestRunProject_DryRunMakesNoChanges(t *testing.T) {
	root, store := newProject(t)
	sess, err := store.CreateSession("/tmp/proj", "", nil, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sum, err := RunProject(root, Config{RetentionDays: 7, DryRun: true})
	if err != nil {
		t.Fatalf("RunProject: %v", err)
	}
	if sum.EmptySessionsRemoved != 1 {
		t.Errorf("EmptySessionsRemoved = %d, want 1", sum.EmptySessionsRemoved)
	}
	if _, err := store.LoadSession(sess.ID); err != nil {
		t.Errorf("dry-run must not delete session: %v", err)
	}
	for _, l := range sum.Lines() {
		if len(l) < len("[dry-run] ") || l[:len("[dry-run] ")] != "[dry-run] " {
			t.Errorf("line %q missing dry-run prefix", l)
		}
	}
}

func TestRunProject_RetiresIdleSession(t *testing.T) {
	root, store := newProject(t)
	sess, err := store.CreateSession("/tmp/proj", "", nil, "claude")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess.LastAccessed = time.Now().UTC().Add(-8 * 24 * time.Hour)
	if err := store.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	sum, err := RunProject(root, Config{RetentionDays: 7})
	if err != nil {
		t.Fatalf("RunProject: %v", err)
	}
	if sum.SessionsRetired != 1 {
		t.Errorf("SessionsRetired = %d, want 1", sum.SessionsRetired)
	}
	reloaded, err := store.LoadSession(sess.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if reloaded.Phase != session.PhaseRetired {
		t.Errorf("Phase = %q, want retired", reloaded.Phase)
	}
}

func TestRunProject_MaxAgeDeletesSession(t *testing.T) {
	root, store := newProject(t)
	sess, err := store.CreateSession("/tmp/proj", "", nil, "claude")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess.LastAccessed = time.Now().UTC().Add(-31 * 24 * time.Hour)
	if err := store.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	maxAge := uint64(30)

	sum, err := RunProject(root, Config{RetentionDays: 7, MaxAgeDays: &maxAge})
	if err != nil {
		t.Fatalf("RunProject: %v", err)
	}
	if sum.AgedSessionsRemoved != 1 {
		t.Errorf("AgedSessionsRemoved = %d, want 1", sum.AgedSessionsRemoved)
	}
	if _, err := store.LoadSession(sess.ID); err == nil {
		t.Error("expected aged-out session to be removed")
	}
}

func TestSweepOrphanSessionDirs_RemovesDirWithoutState(t *testing.T) {
	root, _ := newProject(t)
	sessionsDir := session.SessionsDir(root)
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	orphanID := "01ARZ3NDEKTSV4RRFFQ69G5FAV"
	orphanDir := filepath.Join(sessionsDir, orphanID)
	if err := os.MkdirAll(orphanDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	removed, err := sweepOrphanSessionDirs(root, false)
	if err != nil {
		t.Fatalf("sweepOrphanSessionDirs: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(orphanDir); !os.IsNotExist(err) {
		t.Error("expected orphan dir to be removed")
	}
}

func TestSweepStaleLocks_RemovesDeadPID(t *testing.T) {
	dir := t.TempDir()
	locksDir := filepath.Join(dir, "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	lockPath := filepath.Join(locksDir, "claude.lock")
	if err := os.WriteFile(lockPath, []byte(`{"pid": 999999999}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	removed, err := sweepStaleLocks(dir, false)
	if err != nil {
		t.Fatalf("sweepStaleLocks: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("expected stale lock file to be removed")
	}
}

func TestSweepRotationFile_RemovesWhenNoSessions(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "rotation.toml"), []byte("x=1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	removed, err := sweepRotationFile(root, false)
	if err != nil {
		t.Fatalf("sweepRotationFile: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestDiscoverProjectRoots_FindsProjectBySessionState(t *testing.T) {
	base := t.TempDir()
	proj := filepath.Join(base, "proj-a")
	store := session.NewStore(proj)
	if _, err := store.CreateSession("/tmp/proj-a", "", nil, "claude"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	roots, err := DiscoverProjectRoots(base)
	if err != nil {
		t.Fatalf("DiscoverProjectRoots: %v", err)
	}
	if len(roots) != 1 {
		t.Fatalf("len(roots) = %d, want 1", len(roots))
	}
}

func TestSweepSlots_RemovesDeadLockAndEmptyDir(t *testing.T) {
	slotsRoot := t.TempDir()
	toolDir := filepath.Join(slotsRoot, "claude")
	if err := os.MkdirAll(toolDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(toolDir, "slot-0.lock"), []byte(`{"pid": 999999999}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	locksRemoved, dirsRemoved, err := sweepSlots(slotsRoot, false)
	if err != nil {
		t.Fatalf("sweepSlots: %v", err)
	}
	if locksRemoved != 1 {
		t.Errorf("locksRemoved = %d, want 1", locksRemoved)
	}
	if dirsRemoved != 1 {
		t.Errorf("dirsRemoved = %d, want 1", dirsRemoved)
	}
}
