package session

import (
	"os"
	"path/filepath"
	"strings"
)

// EncodeProjectPath converts an absolute project path to a directory-safe
// name, e.g. "/Users/foo/bar" -> "Users-foo-bar" (grounded on the teacher's
// SanitizePath, generalized to the per-project state root spec §3.1 names).
func EncodeProjectPath(projectPath string) string {
	s := strings.ReplaceAll(projectPath, string(filepath.Separator), "-")
	return strings.TrimLeft(s, "-")
}

// DefaultStateRoot returns the default base directory under which every
// project's state tree lives: ~/.csa/projects/.
func DefaultStateRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".csa", "projects")
	}
	return filepath.Join(home, ".csa", "projects")
}

// ProjectStateRoot returns "<stateRoot>/<encoded-project-path>/" for projectPath.
func ProjectStateRoot(stateRoot, projectPath string) string {
	return filepath.Join(stateRoot, EncodeProjectPath(projectPath))
}

// SessionsDir returns "<projectRoot>/sessions/".
func SessionsDir(projectRoot string) string {
	return filepath.Join(projectRoot, "sessions")
}

// SessionDir returns "<projectRoot>/sessions/<id>/".
func SessionDir(projectRoot, id string) string {
	return filepath.Join(SessionsDir(projectRoot), id)
}
