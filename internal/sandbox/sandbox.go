// Package sandbox applies resource limits to a spawned tool subprocess
// (spec §4.3): cgroup v2 on Linux where available, rlimit as a portable
// fallback, or nothing at all in "off" mode.
package sandbox

import (
	"fmt"
	"os/exec"

	"github.com/csa-project/csa/internal/csaerr"
)

// Mode selects how strictly the sandbox must apply.
type Mode string

const (
	ModeRequired   Mode = "required"
	ModeBestEffort Mode = "best_effort"
	ModeOff        Mode = "off"
)

// Config is the spawn-time resource spec (spec §4.3).
type Config struct {
	Mode            Mode
	MemoryMaxMB     *uint64
	MemorySwapMaxMB *uint64
	PidsMax         *int64
	// BalloonMB, if set, touches a throwaway allocation of this many MiB
	// before spawn to warm swap for heavyweight runtimes.
	BalloonMB *uint64
}

// AppliedInfo records what was actually applied, persisted into
// Session.sandbox_info on first turn only (spec §4.3).
type AppliedInfo struct {
	Mode        string // "cgroup" | "rlimit" | "none"
	MemoryMaxMB *uint64
}

// Handle releases whatever sandbox resources were allocated for one run
// (the cgroup directory, mainly). Release is idempotent.
type Handle interface {
	Release() error
}

type noopHandle struct{}

func (noopHandle) Release() error { return nil }

// Apply sets up the sandbox for a process that has not been started yet,
// returning an *Attacher (nil when no mechanism applies) whose Release
// tears it down afterward, and the AppliedInfo to persist.
//
// Apply must be called before cmd.Start(); the child's PID is only known
// once Start has returned, so the caller must also call the Attacher's
// AttachPID (below) after starting the process.
func Apply(cfg Config) (*Attacher, AppliedInfo, error) {
	if cfg.Mode == ModeOff {
		return nil, AppliedInfo{Mode: "none"}, nil
	}

	if cfg.BalloonMB != nil {
		balloon(*cfg.BalloonMB)
	}

	attacher, info, err := newCgroupAttacher(cfg)
	if err == nil {
		return attacher, info, nil
	}

	if cfg.Mode == ModeRequired {
		// cgroup is preferred; required mode still accepts the rlimit
		// fallback as long as one mechanism applies successfully, since
		// the contract is "sandbox must succeed", not "cgroup specifically".
		attacher, info, rerr := newRlimitAttacher(cfg)
		if rerr == nil {
			return attacher, info, nil
		}
		return nil, AppliedInfo{}, csaerr.Wrap(csaerr.KindResource, "sandbox required but unavailable", err)
	}

	// best_effort: try rlimit, else fall back to unsandboxed.
	attacher, info, rerr := newRlimitAttacher(cfg)
	if rerr == nil {
		return attacher, info, nil
	}
	return nil, AppliedInfo{Mode: "none"}, nil
}

// Attacher binds the resource limits to a process once its PID is known
// (cgroup: add PID to the cgroup; rlimit: Prlimit the PID directly).
type Attacher struct {
	kind     string
	attachFn func(pid int) error
	closeFn  func() error
}

// AttachPID must be called immediately after cmd.Start() succeeds.
func (a *Attacher) AttachPID(cmd *exec.Cmd) error {
	if a == nil || cmd.Process == nil {
		return fmt.Errorf("sandbox: process not started")
	}
	return a.attachFn(cmd.Process.Pid)
}

// Release tears down any sandbox-owned resources (e.g. the cgroup dir).
func (a *Attacher) Release() error {
	if a == nil || a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}
