package pipeline

import (
	"os"

	"github.com/csa-project/csa/internal/csaerr"
)

// checkRecursionDepth enforces spec §4.7 step 1: a forked/delegated session
// may not nest deeper than maxDepth.
func checkRecursionDepth(depth, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	if depth > maxDepth {
		return csaerr.Wrap(csaerr.KindPreExec, "recursion depth exceeded", csaerr.ErrRecursionExceeded)
	}
	return nil
}

// checkChildOfSelf refuses to resume a session that is the invoker's own
// running meta-session: a fork-call or delegation whose target session id
// equals the CSA_SESSION_ID the invoker itself was spawned with would let
// an agent recursively drive its own transcript (spec §4.7 step 1).
func checkChildOfSelf(targetSessionID string) error {
	if targetSessionID == "" {
		return nil
	}
	if invoker := os.Getenv(recursionEnvVar); invoker != "" && invoker == targetSessionID {
		return csaerr.Wrap(csaerr.KindPreExec, "refusing to operate on the invoker's own session", csaerr.ErrChildOfSelf)
	}
	return nil
}
