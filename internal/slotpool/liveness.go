package slotpool

import "golang.org/x/sys/unix"

// ProcessAlive reports whether pid names a live process, by sending signal
// 0 (no-op, delivery only). Liveness is re-derived this way rather than
// tracked via a heartbeat lease (spec §9): a lock file surviving past its
// holder's death is detected here, not assumed from file age.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH
}
