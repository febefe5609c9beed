package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/csa-project/csa/internal/sandbox"
)

// ArgvBuilder lays out a tool's per-tool CLI flags given a request; native
// binaries each have their own flag conventions (spec §4.5 "per-tool flag
// layout").
type ArgvBuilder func(req Request) (command string, args []string, stdin string)

// LegacyTransport builds a single command + optional stdin payload, spawns
// it under the configured sandbox, and waits with idle-timeout semantics.
// No provider session id is learned (spec §4.5).
type LegacyTransport struct {
	BuildArgv ArgvBuilder
}

func NewLegacyTransport(build ArgvBuilder) *LegacyTransport {
	return &LegacyTransport{BuildArgv: build}
}

func (t *LegacyTransport) Execute(ctx context.Context, req Request, opts Options) (Result, error) {
	command, args, stdin := t.BuildArgv(req)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = filteredEnviron()
	for k, v := range req.ExtraEnv {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}

	activity := newActivityTracker()

	var attacher *sandbox.Attacher
	if opts.Sandbox != nil {
		a, _, sbErr := sandbox.Apply(*opts.Sandbox)
		if sbErr != nil {
			return Result{}, fmt.Errorf("apply sandbox: %w", sbErr)
		}
		attacher = a
	}
	defer attacher.Release()

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", command, err)
	}

	if attacher != nil {
		if attachErr := attacher.AttachPID(cmd); attachErr != nil && opts.Sandbox.Mode == sandbox.ModeRequired {
			_ = cmd.Process.Kill()
			return Result{}, fmt.Errorf("attach sandbox: %w", attachErr)
		}
	}

	tee := opts.StreamMode == StreamTeeToStderr
	go activity.copyFrom(stdoutPipe, &activity.stdout, tee, os.Stderr)
	go activity.copyFrom(stderrPipe, &activity.stderr, tee, os.Stderr)

	done := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(done)
	}()

	kill := func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}

	timedOut, err := waitAndCaptureWithIdleTimeout(ctx, done, activity, opts, kill)
	if err != nil {
		return Result{}, err
	}

	stdout, stderr := activity.snapshot()
	exitCode := 0
	if timedOut {
		exitCode = 137
		return Result{Execution: Execution{
			Output:       stdout,
			StderrOutput: stderr,
			ExitCode:     exitCode,
			Summary:      "idle timeout exceeded, process terminated",
		}}, nil
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("wait %s: %w", command, waitErr)
		}
	}

	return Result{Execution: Execution{
		Output:       stdout,
		StderrOutput: stderr,
		ExitCode:     exitCode,
		Summary:      summarizeExit(exitCode),
	}}, nil
}

func summarizeExit(exitCode int) string {
	if exitCode == 0 {
		return "completed"
	}
	return fmt.Sprintf("exited with code %d", exitCode)
}
