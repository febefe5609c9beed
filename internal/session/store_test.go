package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestStore_CreateAndLoad(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("/tmp/project", "fix the flaky test", nil, "claude")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !ValidULID(sess.ID) {
		t.Fatalf("CreateSession produced non-ULID id %q", sess.ID)
	}

	loaded, err := s.LoadSession(sess.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.Description != "fix the flaky test" {
		t.Errorf("Description = %q, want %q", loaded.Description, "fix the flaky test")
	}
	if loaded.Phase != PhaseActive {
		t.Errorf("Phase = %q, want active", loaded.Phase)
	}
	if _, ok := loaded.Tools["claude"]; !ok {
		t.Errorf("Tools missing initial tool entry")
	}
}

func TestStore_Load_NotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.LoadSession(NewULID()); err == nil {
		t.Error("LoadSession of nonexistent id should error")
	}
}

func TestStore_Load_InvalidULID(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.LoadSession("not-a-ulid"); err == nil {
		t.Error("LoadSession with invalid ulid should error")
	}
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("/tmp", "", nil, "")

	if err := s.DeleteSession(sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.LoadSession(sess.ID); err == nil {
		t.Error("LoadSession after delete should error")
	}
}

func TestStore_CreateSets_ParentGenealogy(t *testing.T) {
	s := newTestStore(t)
	parent, _ := s.CreateSession("/tmp", "parent", nil, "")

	child, err := s.CreateSession("/tmp", "child", parent, "")
	if err != nil {
		t.Fatalf("CreateSession(child): %v", err)
	}
	if child.Genealogy.ParentSessionID != parent.ID {
		t.Errorf("ParentSessionID = %q, want %q", child.Genealogy.ParentSessionID, parent.ID)
	}
	if child.Genealogy.Depth != 1 {
		t.Errorf("Depth = %d, want 1", child.Genealogy.Depth)
	}

	grandchild, err := s.CreateSession("/tmp", "grandchild", child, "")
	if err != nil {
		t.Fatalf("CreateSession(grandchild): %v", err)
	}
	if grandchild.Genealogy.Depth != 2 {
		t.Errorf("Depth = %d, want 2", grandchild.Genealogy.Depth)
	}
}

func TestStore_CreateForkSession_SetsForkGenealogy(t *testing.T) {
	s := newTestStore(t)
	parent, _ := s.CreateSession("/tmp", "parent", nil, "claude")

	child, err := s.CreateForkSession("/tmp", "forked child", parent, "prov-123", "claude")
	if err != nil {
		t.Fatalf("CreateForkSession: %v", err)
	}
	if !child.Genealogy.IsFork() {
		t.Error("IsFork() = false, want true")
	}
	if child.Genealogy.ForkOfSessionID != parent.ID {
		t.Errorf("ForkOfSessionID = %q, want %q", child.Genealogy.ForkOfSessionID, parent.ID)
	}
	if child.Genealogy.ForkProviderSessionID != "prov-123" {
		t.Errorf("ForkProviderSessionID = %q, want prov-123", child.Genealogy.ForkProviderSessionID)
	}
	if child.Genealogy.ParentSessionID != "" {
		t.Errorf("ParentSessionID = %q, want empty for a fork", child.Genealogy.ParentSessionID)
	}
	if child.Genealogy.Depth != 1 {
		t.Errorf("Depth = %d, want 1", child.Genealogy.Depth)
	}
}

func TestStore_DeriveDescription_Truncates(t *testing.T) {
	s := newTestStore(t)
	long := ""
	for i := 0; i < 200; i++ {
		long += "x"
	}
	sess, _ := s.CreateSession("/tmp", long, nil, "")
	if len(sess.Description) != 80 {
		t.Errorf("Description len = %d, want 80", len(sess.Description))
	}
}

func TestStore_ListSessions_SortedByLastAccessed(t *testing.T) {
	s := newTestStore(t)

	older, _ := s.CreateSession("/tmp", "older", nil, "")
	older.LastAccessed = time.Now().Add(-time.Hour)
	if err := s.SaveSession(older); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	newer, _ := s.CreateSession("/tmp", "newer", nil, "")
	newer.LastAccessed = time.Now()
	if err := s.SaveSession(newer); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	sessions, err := s.ListSessions(true)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("ListSessions returned %d, want 2", len(sessions))
	}
	if sessions[0].ID != newer.ID {
		t.Errorf("first session = %q, want newer session %q", sessions[0].ID, newer.ID)
	}
}

func TestStore_ListSessions_Empty(t *testing.T) {
	s := newTestStore(t)

	sessions, err := s.ListSessions(true)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("ListSessions = %d, want 0", len(sessions))
	}
}

func TestStore_ListSessions_SkipsNonULIDEntries(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("/tmp", "", nil, "")

	junkDir := filepath.Join(SessionsDir(s.projectRoot), "not-a-ulid")
	if err := os.MkdirAll(junkDir, 0o755); err != nil {
		t.Fatalf("mkdir junk: %v", err)
	}

	sessions, err := s.ListSessions(true)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != sess.ID {
		t.Errorf("ListSessions should skip non-ULID dirs, got %d entries", len(sessions))
	}
}

func TestStore_ResolveResumeSession(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("/tmp", "", nil, "claude")
	sess.Tools["claude"] = ToolState{ProviderSessionID: "provider-abc"}
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	handle, err := s.ResolveResumeSession(sess.ID, "claude")
	if err != nil {
		t.Fatalf("ResolveResumeSession: %v", err)
	}
	if handle.ProviderSessionID != "provider-abc" {
		t.Errorf("ProviderSessionID = %q, want provider-abc", handle.ProviderSessionID)
	}

	handle, err = s.ResolveResumeSession(sess.ID, "codex")
	if err != nil {
		t.Fatalf("ResolveResumeSession(codex): %v", err)
	}
	if handle.ProviderSessionID != "" {
		t.Errorf("ProviderSessionID for unused tool = %q, want empty", handle.ProviderSessionID)
	}
}

func TestStore_SaveAndLoadResult(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("/tmp", "", nil, "")

	res := &Result{Status: "success", ExitCode: 0, Summary: "did the thing", Tool: "claude"}
	if err := s.SaveResult(sess.ID, res); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	loaded, err := s.LoadResult(sess.ID)
	if err != nil {
		t.Fatalf("LoadResult: %v", err)
	}
	if loaded == nil || loaded.Summary != "did the thing" {
		t.Errorf("LoadResult = %+v, want Summary 'did the thing'", loaded)
	}
}

func TestStore_LoadResult_Missing(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("/tmp", "", nil, "")

	res, err := s.LoadResult(sess.ID)
	if err != nil {
		t.Fatalf("LoadResult: %v", err)
	}
	if res != nil {
		t.Errorf("LoadResult for missing result.toml = %+v, want nil", res)
	}
}

func TestStore_SoftForkContext(t *testing.T) {
	s := newTestStore(t)
	parent, _ := s.CreateSession("/tmp", "", nil, "")

	if err := s.SaveResult(parent.ID, &Result{Status: "success", Summary: "implemented the widget"}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	logPath := filepath.Join(SessionDir(s.projectRoot, parent.ID), outputLogName)
	if err := os.WriteFile(logPath, []byte("line one\nline two\nline three\n"), 0o644); err != nil {
		t.Fatalf("write output.log: %v", err)
	}

	recap, err := s.SoftForkContext(parent.ID)
	if err != nil {
		t.Fatalf("SoftForkContext: %v", err)
	}
	if recap == "" {
		t.Fatal("SoftForkContext returned empty recap")
	}
	if !strings.Contains(recap, "implemented the widget") {
		t.Errorf("recap missing result summary: %q", recap)
	}
	if !strings.Contains(recap, "line three") {
		t.Errorf("recap missing output tail: %q", recap)
	}
}
