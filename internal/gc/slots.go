package gc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/csa-project/csa/internal/session"
)

// sweepSlots scans every per-tool slot directory under slotsRoot, removes
// lock files whose recorded PID is no longer alive, and removes any
// per-tool directory left empty (spec §4.8 "process-wide").
func sweepSlots(slotsRoot string, dryRun bool) (locksRemoved, dirsRemoved int, err error) {
	toolDirs, err := os.ReadDir(slotsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("read slots root: %w", err)
	}

	for _, toolDir := range toolDirs {
		if !toolDir.IsDir() {
			continue
		}
		dir := filepath.Join(slotsRoot, toolDir.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		remaining := 0
		for _, e := range entries {
			if e.IsDir() {
				remaining++
				continue
			}
			path := filepath.Join(dir, e.Name())
			pid := session.ReadLockPID(path)
			if pid != 0 && processAlive(pid) {
				remaining++
				continue
			}
			locksRemoved++
			if !dryRun {
				_ = os.Remove(path)
			} else {
				remaining++
			}
		}

		if remaining == 0 {
			dirsRemoved++
			if !dryRun {
				_ = os.Remove(dir)
			}
		}
	}

	return locksRemoved, dirsRemoved, nil
}

// RunGlobal runs RunProject against every project discovered under
// baseStateRoot, then performs the process-wide slot sweep, and returns
// the combined summary (spec §4.8 "invoked ... globally across all
// discovered project state roots").
func RunGlobal(baseStateRoot, slotsRoot string, cfg Config) (*Summary, error) {
	roots, err := DiscoverProjectRoots(baseStateRoot)
	if err != nil {
		return nil, err
	}

	total := &Summary{DryRun: cfg.DryRun}
	for _, root := range roots {
		sum, err := RunProject(root, cfg)
		if err != nil {
			return nil, fmt.Errorf("gc project %s: %w", root, err)
		}
		total.merge(sum)
	}

	locksRemoved, dirsRemoved, err := sweepSlots(slotsRoot, cfg.DryRun)
	if err != nil {
		return nil, err
	}
	total.SlotLocksRemoved += locksRemoved
	total.EmptySlotDirsRemoved += dirsRemoved
	if locksRemoved > 0 || dirsRemoved > 0 {
		total.note("removed %d dead slot lock(s), %d empty slot dir(s)", locksRemoved, dirsRemoved)
	}

	return total, nil
}
