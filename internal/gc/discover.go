package gc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/csa-project/csa/internal/session"
)

// nonProjectSubtrees names base-state-dir entries that are never project
// roots even though they sit alongside them (spec §4.8 "skip known
// non-project subtrees").
var nonProjectSubtrees = map[string]bool{
	"slots": true,
}

// DiscoverProjectRoots walks baseStateRoot and returns every project state
// root it finds: a directory containing sessions/<ulid>/state.toml or a
// rotation.toml (spec §4.8 "global discovery"). It canonicalizes the base
// path first and refuses to follow a symlink that would resolve outside
// of it.
func DiscoverProjectRoots(baseStateRoot string) ([]string, error) {
	canonicalBase, err := filepath.EvalSymlinks(baseStateRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve base state root: %w", err)
	}

	var roots []string
	if err := walkForProjectRoots(canonicalBase, canonicalBase, &roots); err != nil {
		return nil, err
	}
	return roots, nil
}

func walkForProjectRoots(base, dir string, roots *[]string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	if isProjectRoot(dir) {
		*roots = append(*roots, dir)
		return nil // don't recurse into a project root's own sessions/ tree
	}

	for _, e := range entries {
		name := e.Name()
		if nonProjectSubtrees[name] {
			continue
		}
		childPath := filepath.Join(dir, name)

		info, err := os.Lstat(childPath)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(childPath)
			if err != nil {
				continue
			}
			rel, err := filepath.Rel(base, resolved)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				continue // refuses to cross a symlink boundary out of base
			}
			childPath = resolved
		} else if !info.IsDir() {
			continue
		}

		if err := walkForProjectRoots(base, childPath, roots); err != nil {
			return err
		}
	}
	return nil
}

// isProjectRoot reports whether dir itself is a project state root: it has
// rotation.toml, or a sessions/ subdirectory containing at least one valid
// ULID directory with state.toml.
func isProjectRoot(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "rotation.toml")); err == nil {
		return true
	}
	sessionsDir := session.SessionsDir(dir)
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() || !session.ValidULID(e.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(sessionsDir, e.Name(), "state.toml")); err == nil {
			return true
		}
	}
	return false
}
