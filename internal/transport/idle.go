package transport

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/csa-project/csa/internal/session"
	"github.com/csa-project/csa/internal/slotpool"
)

// activityTracker accumulates stdout/stderr and records the last time any
// byte arrived on either stream, independent of newlines (spec §4.5.1:
// "partial progress indicators must not trip the timer").
type activityTracker struct {
	mu           sync.Mutex
	stdout       bytes.Buffer
	stderr       bytes.Buffer
	lastActivity time.Time
}

func newActivityTracker() *activityTracker {
	return &activityTracker{lastActivity: time.Now()}
}

func (a *activityTracker) copyFrom(r io.Reader, target *bytes.Buffer, tee bool, teeTo io.Writer) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			a.mu.Lock()
			target.Write(buf[:n])
			a.lastActivity = time.Now()
			a.mu.Unlock()
			if tee && teeTo != nil {
				teeTo.Write(buf[:n])
			}
		}
		if err != nil {
			return
		}
	}
}

func (a *activityTracker) idleSince() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Since(a.lastActivity)
}

func (a *activityTracker) touch() {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

func (a *activityTracker) snapshot() (stdout, stderr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stdout.String(), a.stderr.String()
}

// killFunc and waitFunc abstract process control so the escalation logic
// can be unit-tested without a real child process.
type killFunc func() error

// waitAndCaptureWithIdleTimeout implements spec §4.5.1: poll the activity
// tracker; once idle_timeout has elapsed with no new bytes, probe
// liveness (process alive + spool file still growing) if a spool is
// configured, resetting the timers on a live-and-producing child;
// otherwise escalate immediately. Once escalated, allow termination_grace
// for voluntary exit before killing and returning an idle-timeout summary.
func waitAndCaptureWithIdleTimeout(
	ctx context.Context,
	done <-chan struct{},
	activity *activityTracker,
	opts Options,
	kill killFunc,
) (timedOut bool, err error) {
	if opts.IdleTimeout <= 0 {
		select {
		case <-done:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	poll := time.NewTicker(pollInterval(opts.IdleTimeout))
	defer poll.Stop()

	deadTimeout := opts.LivenessDeadTimeout
	if deadTimeout <= 0 {
		deadTimeout = 600 * time.Second
	}
	escalatedAt := time.Time{}

	var lastSpoolSize int64 = -1

	for {
		select {
		case <-done:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		case <-poll.C:
			idleFor := activity.idleSince()
			if escalatedAt.IsZero() {
				if idleFor < opts.IdleTimeout {
					continue
				}
				if live, growing := probeLiveness(opts, &lastSpoolSize); live && growing {
					activity.touch()
					continue
				}
				escalatedAt = time.Now()
				continue
			}

			// Already escalated: allow termination_grace for voluntary exit.
			if time.Since(escalatedAt) >= opts.TerminationGrace {
				_ = kill()
				return true, nil
			}
			if time.Since(escalatedAt) >= deadTimeout {
				_ = kill()
				return true, nil
			}
		}
	}
}

// probeLiveness checks (a) the tool process recorded in the lock file is
// alive via a zero-signal probe and (b) the spool file has grown since
// the last poll.
func probeLiveness(opts Options, lastSpoolSize *int64) (live, growing bool) {
	if opts.SpoolPath == "" {
		return false, false
	}
	pid := session.ReadLockPID(opts.LockFilePath)
	if pid == 0 || !slotpool.ProcessAlive(pid) {
		return false, false
	}

	info, err := os.Stat(opts.SpoolPath)
	if err != nil {
		return true, false
	}
	size := info.Size()
	growing = *lastSpoolSize >= 0 && size > *lastSpoolSize
	*lastSpoolSize = size
	return true, growing
}

func pollInterval(idleTimeout time.Duration) time.Duration {
	d := idleTimeout / 10
	if d < 250*time.Millisecond {
		return 250 * time.Millisecond
	}
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}
