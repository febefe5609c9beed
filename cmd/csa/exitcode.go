package main

import (
	"github.com/csa-project/csa/internal/csaerr"
	"github.com/csa-project/csa/internal/pipeline"
)

// exitCodeFor maps a Run error to a process exit code: 0 when err is nil,
// 1 for every error kind. The 137 idle-timeout code and the child's own
// exit code come from exitCodeForResult, not from here.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if csaerr.Is(err, csaerr.KindRuntime) {
		return 1
	}
	return 1
}

// exitCodeForResult derives the process exit code from a completed run,
// preferring the child's own reported exit code (spec §6).
func exitCodeForResult(res *pipeline.RunResult) int {
	if res == nil || res.Result == nil {
		return 0
	}
	if res.Result.ExitCode == 137 {
		return 137
	}
	return res.Result.ExitCode
}
