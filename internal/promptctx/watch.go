package promptctx

import (
	"github.com/fsnotify/fsnotify"
)

// ContextWatcher watches a project's primary context files (CLAUDE.md,
// AGENTS.md) for changes so a long-lived RPC-adapter session can re-read
// them on the next turn instead of serving a stale prompt prefix for the
// life of the provider session (spec §4.7 step 7b; the RPC-adapter
// transport keeps a child alive across many turns, unlike legacy's
// one-shot spawn). Watching is best-effort: where no watch can be
// established, WatchContextFiles returns a nil *ContextWatcher instead of
// a watcher that never fires.
type ContextWatcher struct {
	watcher *fsnotify.Watcher
	Changed <-chan string
}

// WatchContextFiles starts watching projectRoot's primary context files.
// It returns (nil, nil) rather than an error when the underlying watch
// cannot be established (e.g. fsnotify unsupported on this platform or
// filesystem), matching the sandbox's "degrade gracefully when kernel
// features are absent" posture (spec §4.3) applied to this ambient
// concern.
func WatchContextFiles(projectRoot string) (*ContextWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil
	}

	changed := make(chan string, 8)
	watched := 0
	for _, name := range primaryContextFiles {
		path := projectRoot + "/" + name
		if err := w.Add(path); err == nil {
			watched++
		}
	}
	if watched == 0 {
		_ = w.Close()
		return nil, nil
	}

	go func() {
		defer close(changed)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					select {
					case changed <- ev.Name:
					default:
					}
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return &ContextWatcher{watcher: w, Changed: changed}, nil
}

// Close stops the watcher.
func (c *ContextWatcher) Close() error {
	if c == nil || c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}
