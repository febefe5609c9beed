package session

import "github.com/csa-project/csa/internal/csaerr"

// Re-exported sentinels so callers mostly only need to import this package.
var (
	ErrSessionNotFound   = csaerr.ErrSessionNotFound
	ErrInvalidTransition = csaerr.ErrInvalidTransition
	ErrRateLimitExceeded = csaerr.ErrRateLimitExceeded
	ErrLockHeld          = csaerr.ErrLockHeld
)
