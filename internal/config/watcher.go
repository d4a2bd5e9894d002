package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/cardresource/cardres/internal/logging"
)

// ProfilesWatcher watches the configured profiles file for changes and
// invokes a callback so the caller can rebuild the resource
// configuration. Reconfiguration itself only takes effect the next
// time the service is stopped and started; the watcher's job is only
// to notice the file changed and tell the caller.
type ProfilesWatcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewProfilesWatcher creates a watcher for path. Returns an error if
// the underlying fsnotify watcher can't be created.
func NewProfilesWatcher(path string) (*ProfilesWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ProfilesWatcher{path: path, watcher: w}, nil
}

// Start watches the profiles file's directory (so editors that replace
// the file via rename-into-place are still noticed) and invokes
// onChange whenever the file is written or replaced. Blocks until ctx
// is cancelled; run it in a goroutine.
func (w *ProfilesWatcher) Start(ctx context.Context, onChange func()) {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		logging.Warn(logging.CatSystem, "Failed to watch profiles directory", map[string]any{
			"dir":   dir,
			"error": err.Error(),
		})
		return
	}

	logging.Debug(logging.CatSystem, "Watching profiles file for changes", map[string]any{
		"path": w.path,
	})

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logging.Info(logging.CatSystem, "Profiles file changed", map[string]any{
				"path": w.path,
				"op":   event.Op.String(),
			})
			onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn(logging.CatSystem, "Profiles watcher error", map[string]any{
				"error": err.Error(),
			})

		case <-ctx.Done():
			return
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *ProfilesWatcher) Close() error {
	return w.watcher.Close()
}
