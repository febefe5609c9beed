// Package gc implements the Session Garbage Collector (spec §4.8): stale
// lock removal, orphan/empty session cleanup, phase-aging to Retired,
// max-age deletion, transcript trimming, and a process-wide slot-file
// sweep. It can run against one project's state root or discover every
// project under a base state directory.
package gc

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/csa-project/csa/internal/config"
	"github.com/csa-project/csa/internal/session"
	"github.com/csa-project/csa/internal/slotpool"
)

func processAlive(pid int) bool { return slotpool.ProcessAlive(pid) }

// Config bundles the knobs that drive one GC pass, taken directly from the
// effective [session]/[gc] configuration plus the invocation's mode.
type Config struct {
	RetentionDays        int // Active/Available -> Retired after this many days idle
	MaxAgeDays           *uint64
	TranscriptMaxAgeDays  uint64
	TranscriptMaxSizeMB   uint64
	DryRun                bool
}

// FromAppConfig derives a gc.Config from the merged application config.
func FromAppConfig(cfg *config.Config, dryRun bool) Config {
	return Config{
		RetentionDays:        cfg.Session.RetentionDays,
		MaxAgeDays:           cfg.Gc.MaxAgeDays,
		TranscriptMaxAgeDays: cfg.Gc.TranscriptMaxAgeDays,
		TranscriptMaxSizeMB:  cfg.Gc.TranscriptMaxSizeMB,
		DryRun:               dryRun,
	}
}

func (c Config) retention() time.Duration {
	days := c.RetentionDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// Summary counts everything one GC pass removed or transitioned, matching
// spec §4.8's "JSON summary document containing counts per removal
// category".
type Summary struct {
	ProjectsScanned       int `json:"projects_scanned"`
	StaleLocksRemoved     int `json:"stale_locks_removed"`
	EmptySessionsRemoved  int `json:"empty_sessions_removed"`
	SessionsRetired       int `json:"sessions_retired"`
	AgedSessionsRemoved   int `json:"aged_sessions_removed"`
	OrphanDirsRemoved     int `json:"orphan_dirs_removed"`
	RotationFilesRemoved  int `json:"rotation_files_removed"`
	TranscriptFilesPruned int `json:"transcript_files_pruned"`
	SlotLocksRemoved      int `json:"slot_locks_removed"`
	EmptySlotDirsRemoved  int `json:"empty_slot_dirs_removed"`
	DryRun                bool `json:"dry_run"`

	// lines accumulates the human-readable narration for text output, in
	// the order actions were (or would have been) taken.
	lines []string
}

func (s *Summary) note(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if s.DryRun {
		msg = "[dry-run] " + msg
	}
	s.lines = append(s.lines, msg)
}

func (s *Summary) merge(other *Summary) {
	s.ProjectsScanned += other.ProjectsScanned
	s.StaleLocksRemoved += other.StaleLocksRemoved
	s.EmptySessionsRemoved += other.EmptySessionsRemoved
	s.SessionsRetired += other.SessionsRetired
	s.AgedSessionsRemoved += other.AgedSessionsRemoved
	s.OrphanDirsRemoved += other.OrphanDirsRemoved
	s.RotationFilesRemoved += other.RotationFilesRemoved
	s.TranscriptFilesPruned += other.TranscriptFilesPruned
	s.SlotLocksRemoved += other.SlotLocksRemoved
	s.EmptySlotDirsRemoved += other.EmptySlotDirsRemoved
	s.lines = append(s.lines, other.lines...)
}

// Lines returns the accumulated text narration, "[dry-run] "-prefixed when
// DryRun is set (spec §4.8 "text ... a single summary document").
func (s *Summary) Lines() []string {
	return s.lines
}

// RunProject executes one GC pass against a single project's state root
// (spec §4.8 "per session dir" / "per project state root").
func RunProject(projectStateRoot string, cfg Config) (*Summary, error) {
	sum := &Summary{ProjectsScanned: 1, DryRun: cfg.DryRun}
	store := session.NewStore(projectStateRoot)

	sessions, err := store.ListSessions(cfg.DryRun)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	now := time.Now().UTC()
	for _, sess := range sessions {
		dir := session.SessionDir(projectStateRoot, sess.ID)

		removedLocks, err := sweepStaleLocks(dir, cfg.DryRun)
		if err != nil {
			return nil, err
		}
		sum.StaleLocksRemoved += removedLocks
		if removedLocks > 0 {
			sum.note("removed %d stale lock(s) in session %s", removedLocks, sess.ID)
		}

		if len(sess.Tools) == 0 {
			sum.EmptySessionsRemoved++
			sum.note("session %s has no tool state, removing", sess.ID)
			if !cfg.DryRun {
				_ = store.DeleteSession(sess.ID)
			}
			continue
		}

		if cfg.MaxAgeDays != nil {
			maxAge := time.Duration(*cfg.MaxAgeDays) * 24 * time.Hour
			if now.Sub(sess.LastAccessed) > maxAge {
				sum.AgedSessionsRemoved++
				sum.note("session %s exceeds max age, removing", sess.ID)
				if !cfg.DryRun {
					_ = store.DeleteSession(sess.ID)
				}
				continue
			}
		}

		if now.Sub(sess.LastAccessed) > cfg.retention() &&
			(sess.Phase == session.PhaseActive || sess.Phase == session.PhaseAvailable) {
			sum.SessionsRetired++
			sum.note("retiring idle session %s", sess.ID)
			if !cfg.DryRun {
				newPhase, terr := sess.Phase.Transition(session.EventRetired)
				if terr == nil {
					sess.Phase = newPhase
					_ = store.SaveSession(sess)
				}
			}
		}

		pruned, err := pruneTranscripts(dir, cfg, now)
		if err != nil {
			return nil, err
		}
		sum.TranscriptFilesPruned += pruned
		if pruned > 0 {
			sum.note("pruned %d transcript file(s) in session %s", pruned, sess.ID)
		}
	}

	orphanRemoved, err := sweepOrphanSessionDirs(projectStateRoot, cfg.DryRun)
	if err != nil {
		return nil, err
	}
	sum.OrphanDirsRemoved += orphanRemoved
	if orphanRemoved > 0 {
		sum.note("removed %d orphan session dir(s)", orphanRemoved)
	}

	rotationRemoved, err := sweepRotationFile(projectStateRoot, cfg.DryRun)
	if err != nil {
		return nil, err
	}
	sum.RotationFilesRemoved += rotationRemoved
	if rotationRemoved > 0 {
		sum.note("removed stale rotation.toml")
	}

	return sum, nil
}

// sweepStaleLocks removes locks/<tool>.lock files whose recorded PID is no
// longer alive (spec §4.8 "remove stale lock files").
func sweepStaleLocks(sessionDir string, dryRun bool) (int, error) {
	locksDir := filepath.Join(sessionDir, "locks")
	entries, err := os.ReadDir(locksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read locks dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(locksDir, e.Name())
		pid := session.ReadLockPID(path)
		if pid != 0 && processAlive(pid) {
			continue
		}
		removed++
		if !dryRun {
			_ = os.Remove(path)
		}
	}
	return removed, nil
}

// sweepOrphanSessionDirs removes subdirectories of sessions/ whose name is
// a valid ULID but which lack state.toml and are not themselves a
// container of nested sessions (spec §4.8).
func sweepOrphanSessionDirs(projectStateRoot string, dryRun bool) (int, error) {
	dir := session.SessionsDir(projectStateRoot)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read sessions dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !session.ValidULID(e.Name()) {
			continue
		}
		sessDir := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(sessDir, "state.toml")); err == nil {
			continue
		}
		if containsNestedSessions(sessDir) {
			continue
		}
		removed++
		if !dryRun {
			_ = os.RemoveAll(sessDir)
		}
	}
	return removed, nil
}

func containsNestedSessions(dir string) bool {
	nested := filepath.Join(dir, "sessions")
	entries, err := os.ReadDir(nested)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() && session.ValidULID(e.Name()) {
			return true
		}
	}
	return false
}

// sweepRotationFile removes rotation.toml when the sessions/ directory is
// empty or absent (spec §4.8 "remove rotation.toml when no sessions
// remain").
func sweepRotationFile(projectStateRoot string, dryRun bool) (int, error) {
	rotationPath := filepath.Join(projectStateRoot, "rotation.toml")
	if _, err := os.Stat(rotationPath); err != nil {
		return 0, nil
	}

	entries, err := os.ReadDir(session.SessionsDir(projectStateRoot))
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("read sessions dir: %w", err)
	}
	if len(entries) > 0 {
		return 0, nil
	}

	if !dryRun {
		_ = os.Remove(rotationPath)
	}
	return 1, nil
}

// pruneTranscripts removes transcripts/ files older than
// TranscriptMaxAgeDays and, if still over TranscriptMaxSizeMB, removes the
// oldest remaining files until under the bound (spec §4.8 "transcript
// cleanup ... bounded by age and/or size").
func pruneTranscripts(sessionDir string, cfg Config, now time.Time) (int, error) {
	dir := filepath.Join(sessionDir, "transcripts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read transcripts dir: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	type file struct {
		path    string
		modTime time.Time
		size    int64
	}
	files := make([]file, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{path: filepath.Join(dir, e.Name()), modTime: info.ModTime(), size: info.Size()})
	}

	pruned := 0
	kept := files[:0:0]
	maxAge := time.Duration(cfg.TranscriptMaxAgeDays) * 24 * time.Hour
	for _, f := range files {
		if cfg.TranscriptMaxAgeDays > 0 && now.Sub(f.modTime) > maxAge {
			pruned++
			if !cfg.DryRun {
				_ = os.Remove(f.path)
			}
			continue
		}
		kept = append(kept, f)
	}

	if cfg.TranscriptMaxSizeMB > 0 {
		var total int64
		for _, f := range kept {
			total += f.size
		}
		maxBytes := int64(cfg.TranscriptMaxSizeMB) * 1024 * 1024
		// oldest first
		idx := 0
		for total > maxBytes && idx < len(kept) {
			oldest := idx
			for j := idx + 1; j < len(kept); j++ {
				if kept[j].modTime.Before(kept[oldest].modTime) {
					oldest = j
				}
			}
			kept[idx], kept[oldest] = kept[oldest], kept[idx]
			pruned++
			total -= kept[idx].size
			if !cfg.DryRun {
				_ = os.Remove(kept[idx].path)
			}
			idx++
		}
	}

	return pruned, nil
}
