package sandbox

import (
	"fmt"
	"os"
	"runtime"

	"github.com/containerd/cgroups/v3/cgroup2"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const cgroupMountpoint = "/sys/fs/cgroup"

// newCgroupAttacher builds a cgroup v2 scope sized per cfg. Only available
// on Linux with cgroup v2 mounted; any other platform or missing support
// returns an error so Apply can fall back to rlimit mode.
func newCgroupAttacher(cfg Config) (*Attacher, AppliedInfo, error) {
	if runtime.GOOS != "linux" {
		return nil, AppliedInfo{}, fmt.Errorf("cgroup sandbox requires linux")
	}

	linuxRes := &specs.LinuxResources{}
	if cfg.MemoryMaxMB != nil {
		limit := int64(*cfg.MemoryMaxMB) * 1024 * 1024
		mem := &specs.LinuxMemory{Limit: &limit}
		if cfg.MemorySwapMaxMB != nil {
			swap := limit + int64(*cfg.MemorySwapMaxMB)*1024*1024
			mem.Swap = &swap
		}
		linuxRes.Memory = mem
	}
	if cfg.PidsMax != nil {
		linuxRes.Pids = &specs.LinuxPids{Limit: *cfg.PidsMax}
	}

	res, err := cgroup2.ToResources(linuxRes)
	if err != nil {
		return nil, AppliedInfo{}, fmt.Errorf("convert resource spec: %w", err)
	}

	group := fmt.Sprintf("/csa-run-%d.scope", os.Getpid())
	mgr, err := cgroup2.NewManager(cgroupMountpoint, group, res)
	if err != nil {
		return nil, AppliedInfo{}, fmt.Errorf("create cgroup %s: %w", group, err)
	}

	a := &Attacher{
		kind: "cgroup",
		attachFn: func(pid int) error {
			return mgr.AddProc(uint64(pid))
		},
		closeFn: func() error {
			return mgr.Delete()
		},
	}
	return a, AppliedInfo{Mode: "cgroup", MemoryMaxMB: cfg.MemoryMaxMB}, nil
}
