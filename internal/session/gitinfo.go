package session

import (
	"os/exec"
	"strings"
)

// CurrentGitHead returns the commit the project's working tree currently
// has checked out, or "" if projectPath isn't inside a git work tree (or
// git isn't on PATH) — git_head_at_creation is documented as optional
// (spec §3.1), so this degrades silently rather than failing session
// creation or fork resolution.
func CurrentGitHead(projectPath string) string {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = projectPath
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
