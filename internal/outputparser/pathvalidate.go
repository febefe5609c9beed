package outputparser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateReturnPacketPath enforces the changed_files path rules (spec
// §4.4): the path must be non-empty, relative, contain no ".." traversal
// component, and canonicalize (following symlinks) to somewhere inside
// root. A path naming a file that doesn't exist yet (Add, or Delete of
// something already removed) is accepted as long as its nearest existing
// ancestor canonicalizes inside root.
func ValidateReturnPacketPath(root, relPath string, action FileAction) error {
	if relPath == "" {
		return fmt.Errorf("changed_files path is empty")
	}
	if filepath.IsAbs(relPath) {
		return fmt.Errorf("changed_files path %q must be relative", relPath)
	}
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if part == ".." {
			return fmt.Errorf("changed_files path %q contains a parent traversal", relPath)
		}
	}

	root, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	candidate := filepath.Join(root, relPath)
	resolved, err := resolveExistingAncestor(candidate)
	if err != nil {
		return err
	}
	if !withinRoot(root, resolved) {
		return fmt.Errorf("changed_files path %q escapes project root", relPath)
	}
	_ = action
	return nil
}

// resolveExistingAncestor walks up from path until it finds a segment that
// exists, resolving symlinks along the way, then rejoins the non-existent
// suffix. This lets a path for a file that is about to be created (or has
// already been deleted) still be checked against its real parent
// directory.
func resolveExistingAncestor(path string) (string, error) {
	suffix := []string{}
	cur := path
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(append([]string{resolved}, suffix...)...), nil
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve %q: %w", cur, err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no existing ancestor for %q", path)
		}
		suffix = append([]string{filepath.Base(cur)}, suffix...)
		cur = parent
	}
}

func withinRoot(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
