package sandbox

// balloon touches a throwaway allocation of mb MiB so the kernel pages it
// in before the real child spawns, warming swap ahead of a heavyweight
// runtime (spec §4.3). The slice is deliberately left for the GC to
// reclaim once this function returns; the point is the page faults, not
// retention.
func balloon(mb uint64) {
	const pageSize = 4096
	buf := make([]byte, mb*1024*1024)
	for i := 0; i < len(buf); i += pageSize {
		buf[i] = 1
	}
}
