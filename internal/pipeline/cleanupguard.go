package pipeline

import "github.com/csa-project/csa/internal/session"

// cleanupGuard deletes a newly-created session directory unless Defuse is
// called first (spec §4.7 step 2, §9 "Arena-free ownership"). It is armed
// only around sessions the pipeline itself created this run; resumed
// sessions never get one, since deleting them on a pre-exec failure would
// destroy prior history that didn't belong to this run.
type cleanupGuard struct {
	store     *session.Store
	sessionID string
	armed     bool
}

// armCleanupGuard returns a guard that will delete sessionID's directory
// when Fire is called, unless Defuse runs first.
func armCleanupGuard(store *session.Store, sessionID string) *cleanupGuard {
	return &cleanupGuard{store: store, sessionID: sessionID, armed: true}
}

// Defuse marks the guard as no longer armed: the session survives.
func (g *cleanupGuard) Defuse() {
	if g == nil {
		return
	}
	g.armed = false
}

// Fire deletes the session directory if still armed. Safe to call multiple
// times and safe to call on a nil guard (resumed-session call sites pass
// nil).
func (g *cleanupGuard) Fire() {
	if g == nil || !g.armed {
		return
	}
	_ = g.store.DeleteSession(g.sessionID)
	g.armed = false
}
