package sandbox

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// newRlimitAttacher is the portable fallback when cgroup setup fails:
// applies per-process RLIMIT_AS (approximating a memory cap) and
// RLIMIT_NPROC via Prlimit on the already-spawned child PID.
func newRlimitAttacher(cfg Config) (*Attacher, AppliedInfo, error) {
	if runtime.GOOS != "linux" {
		return nil, AppliedInfo{}, fmt.Errorf("rlimit sandbox requires linux")
	}
	if cfg.MemoryMaxMB == nil && cfg.PidsMax == nil {
		return nil, AppliedInfo{}, fmt.Errorf("rlimit sandbox needs at least one limit configured")
	}

	attachFn := func(pid int) error {
		if cfg.MemoryMaxMB != nil {
			limit := *cfg.MemoryMaxMB * 1024 * 1024
			rl := unix.Rlimit{Cur: limit, Max: limit}
			if err := unix.Prlimit(pid, unix.RLIMIT_AS, &rl, nil); err != nil {
				return fmt.Errorf("set RLIMIT_AS: %w", err)
			}
		}
		if cfg.PidsMax != nil {
			limit := uint64(*cfg.PidsMax)
			rl := unix.Rlimit{Cur: limit, Max: limit}
			if err := unix.Prlimit(pid, unix.RLIMIT_NPROC, &rl, nil); err != nil {
				return fmt.Errorf("set RLIMIT_NPROC: %w", err)
			}
		}
		return nil
	}

	return &Attacher{kind: "rlimit", attachFn: attachFn}, AppliedInfo{Mode: "rlimit", MemoryMaxMB: cfg.MemoryMaxMB}, nil
}
