// Package hooks runs the pipeline's lifecycle hook commands (spec §4.7 steps
// 8 and 10: PreRun, PostRun, SessionComplete) as shell subprocesses, feeding
// each a fixed variable set and honoring open/closed failure policy with a
// waiver escape hatch.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/csa-project/csa/internal/csaerr"
)

// Event names the three lifecycle points the pipeline fires hooks at.
type Event string

const (
	EventPreRun          Event = "PreRun"
	EventPostRun         Event = "PostRun"
	EventSessionComplete Event = "SessionComplete"
)

// Policy controls how a failing hook command is treated.
type Policy string

const (
	// PolicyOpen ignores a failing hook's non-zero exit or error.
	PolicyOpen Policy = "open"
	// PolicyClosed aborts the run on a failing hook unless a waiver matches.
	PolicyClosed Policy = "closed"
)

// Spec is one configured hook command for an event.
type Spec struct {
	Event   Event
	Command string
	Policy  Policy
	Timeout time.Duration
}

// Vars are the variables substituted into a hook command's environment
// (spec §4.7 step 8: "session_id, session_dir, sessions_root, tool").
type Vars struct {
	SessionID   string
	SessionDir  string
	SessionsRoot string
	Tool        string
}

func (v Vars) env() []string {
	return []string{
		"CSA_HOOK_SESSION_ID=" + v.SessionID,
		"CSA_HOOK_SESSION_DIR=" + v.SessionDir,
		"CSA_HOOK_SESSIONS_ROOT=" + v.SessionsRoot,
		"CSA_HOOK_TOOL=" + v.Tool,
	}
}

// Waiver names a hook command that is exempt from closed-policy aborts,
// e.g. one known to be flaky in a given project.
type Waiver struct {
	Event   Event
	Command string
}

// Result is one hook command's outcome.
type Result struct {
	Spec     Spec
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Run executes every configured hook for event in order, substituting vars.
// Under PolicyOpen a failure is recorded in the returned Result but does not
// stop later hooks or return an error. Under PolicyClosed, a failure aborts
// immediately with a *csaerr.Error unless a Waiver names that exact
// (event, command) pair.
func Run(ctx context.Context, specs []Spec, vars Vars, waivers []Waiver) ([]Result, error) {
	var results []Result
	for _, spec := range specs {
		if spec.Event != specs[0].Event && len(specs) > 0 {
			// specs is expected pre-filtered to one event by the caller;
			// a mixed slice is not filtered here and every spec in it runs.
		}
		res := runOne(ctx, spec, vars)
		results = append(results, res)

		if res.Err != nil || res.ExitCode != 0 {
			if spec.Policy == PolicyOpen {
				continue
			}
			if isWaived(spec, waivers) {
				continue
			}
			return results, csaerr.Wrap(csaerr.KindPreExec,
				fmt.Sprintf("hook %q failed under closed policy", spec.Command), res.Err)
		}
	}
	return results, nil
}

func isWaived(spec Spec, waivers []Waiver) bool {
	for _, w := range waivers {
		if w.Event == spec.Event && w.Command == spec.Command {
			return true
		}
	}
	return false
}

func runOne(ctx context.Context, spec Spec, vars Vars) Result {
	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", spec.Command)
	cmd.Env = append(cmd.Environ(), vars.env()...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{Spec: spec, Err: err, Stdout: stdout.String(), Stderr: stderr.String()}
		}
	}
	return Result{Spec: spec, ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}
}

// FilterEvent returns the subset of specs matching event, preserving order.
func FilterEvent(specs []Spec, event Event) []Spec {
	var out []Spec
	for _, s := range specs {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

// String renders a Result for log/diagnostic output.
func (r Result) String() string {
	status := "ok"
	if r.Err != nil || r.ExitCode != 0 {
		status = "failed"
	}
	return strings.TrimSpace(fmt.Sprintf("[%s] %s (%s, exit=%d)", r.Spec.Event, r.Spec.Command, status, r.ExitCode))
}
