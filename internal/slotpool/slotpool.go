// Package slotpool implements the process-wide, per-tool bounded set of
// advisory file locks that caps how many tool subprocesses may run
// concurrently (spec §4.2).
package slotpool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/csa-project/csa/internal/csaerr"
)

// slotContent is the JSON body written into an acquired slot file.
type slotContent struct {
	PID       int    `json:"pid"`
	SessionID string `json:"session_id,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Guard represents one held slot. Release drops the advisory lock; it is
// safe to call multiple times (RAII-style, spec §4.2 "released on guard
// drop").
type Guard struct {
	path  string
	fl    *flock.Flock
	index int
}

// Index returns which slot-<n>.lock this guard holds.
func (g *Guard) Index() int { return g.index }

// Release drops the lock. The backing file is left on disk (liveness is
// re-derived from PID at inspection time, spec §9), matching the "abrupt
// termination leaks a file but never a live hold" guarantee.
func (g *Guard) Release() error {
	if g == nil || g.fl == nil {
		return nil
	}
	return g.fl.Unlock()
}

// Pool manages the slot-<n>.lock files for one tool under slotsRoot/tool/.
type Pool struct {
	dir string
	max int
}

// New returns a Pool for tool, bounded at max concurrent holders.
func New(slotsRoot, tool string, max int) *Pool {
	return &Pool{dir: filepath.Join(slotsRoot, tool), max: max}
}

// TryAcquire attempts each slot-<n>.lock in order and returns the first one
// it can exclusively lock, or ErrSlotExhausted if none are free.
func (p *Pool) TryAcquire(sessionID string) (*Guard, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create slots dir: %w", err)
	}

	for i := 0; i < p.max; i++ {
		path := p.slotPath(i)
		fl := flock.New(path)

		ok, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if !ok {
			continue
		}

		if err := writeSlotContent(path, sessionID); err != nil {
			_ = fl.Unlock()
			return nil, err
		}
		return &Guard{path: path, fl: fl, index: i}, nil
	}

	return nil, csaerr.ErrSlotExhausted
}

// AcquireBlocking polls TryAcquire with bounded backoff until timeout
// elapses or ctx is cancelled.
func (p *Pool) AcquireBlocking(ctx context.Context, sessionID string, timeout time.Duration) (*Guard, error) {
	deadline := time.Now().Add(timeout)
	backoff := 25 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		guard, err := p.TryAcquire(sessionID)
		if err == nil {
			return guard, nil
		}
		if err != csaerr.ErrSlotExhausted {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire slot for %s: %w", filepath.Base(p.dir), context.DeadlineExceeded)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (p *Pool) slotPath(i int) string {
	return filepath.Join(p.dir, fmt.Sprintf("slot-%d.lock", i))
}

func writeSlotContent(path, sessionID string) error {
	content := slotContent{PID: os.Getpid(), SessionID: sessionID, AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal slot content: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Occupancy describes one slot's observed state, used for the diagnostic
// dump that lets an operator see which tools are free (spec §4.2 "slot
// acquisition never deadlocks").
type Occupancy struct {
	Index int
	PID   int
	Alive bool
}

// Inspect returns the occupancy of every slot-<n>.lock for this pool,
// without taking any lock itself.
func (p *Pool) Inspect() ([]Occupancy, error) {
	out := make([]Occupancy, 0, p.max)
	for i := 0; i < p.max; i++ {
		path := p.slotPath(i)
		data, err := os.ReadFile(path)
		if err != nil {
			out = append(out, Occupancy{Index: i})
			continue
		}
		var content slotContent
		if err := json.Unmarshal(data, &content); err != nil {
			out = append(out, Occupancy{Index: i})
			continue
		}
		out = append(out, Occupancy{Index: i, PID: content.PID, Alive: ProcessAlive(content.PID)})
	}
	return out, nil
}
