package pipeline

import "golang.org/x/sys/unix"

// FreeMemoryMB reports the kernel's current free (+ reclaimable) memory
// in megabytes, used by the resource preflight (spec §4.3, §4.7 step 3).
// Grounded on the same golang.org/x/sys/unix package the rlimit sandbox
// fallback and slot liveness probe already depend on.
func FreeMemoryMB() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	freeBytes := uint64(info.Freeram)*unit + uint64(info.Bufferram)*unit
	return freeBytes / (1024 * 1024), nil
}

// checkMinFreeMemory returns false when free memory is below the
// configured floor. A zero floor disables the check.
func checkMinFreeMemory(minFreeMB uint64) (ok bool, freeMB uint64, err error) {
	if minFreeMB == 0 {
		return true, 0, nil
	}
	free, err := FreeMemoryMB()
	if err != nil {
		// Degrade gracefully: an unreadable sysinfo never blocks a run.
		return true, 0, nil
	}
	return free >= minFreeMB, free, nil
}
