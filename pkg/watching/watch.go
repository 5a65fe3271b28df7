// Package watching adapts fsnotify into a pausable recursive directory
// watcher. The engine pauses it for the duration of executing its own
// FileOps, so that the writes it makes to the encrypted or plaintext root
// don't loop back around as new change notifications.
package watching

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/gpgsync-dev/gpgsync/pkg/logging"
)

// Watcher recursively watches a root directory and reports root-relative
// changed paths on Events.
type Watcher struct {
	fsw    *fsnotify.Watcher
	root   string
	logger *logging.Logger
	paused atomic.Bool

	// Events carries root-relative paths that fsnotify reported a change
	// under, while the watcher isn't paused. It's buffered and lossy: when
	// the buffer is full the notification is dropped (logged at debug
	// level), and the engine does not rediff that path until a later event
	// covers it.
	Events chan string
	// Errors carries errors reported by the underlying fsnotify watcher.
	Errors chan error
}

// New creates a Watcher rooted at root and begins watching root and all of
// its subdirectories that exist at call time.
func New(root string, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:    fsw,
		root:   root,
		logger: logger,
		Events: make(chan string, 256),
		Errors: make(chan error, 16),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// addRecursive registers every directory beneath dir (inclusive) with the
// underlying fsnotify watcher. fsnotify has no native recursive mode, so
// this has to be redone whenever a new directory appears.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(err)
			select {
			case w.Errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if w.Paused() {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn(err)
			}
		}
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	select {
	case w.Events <- rel:
	default:
		w.logger.Debugln("dropping watch event, channel full:", rel)
	}
}

// Pause stops Events from receiving new notifications. Events already
// queued are left in place; callers that want a clean slate after pausing
// should drain the channel.
func (w *Watcher) Pause() {
	w.paused.Store(true)
}

// Resume re-enables Events.
func (w *Watcher) Resume() {
	w.paused.Store(false)
}

// Paused reports whether the watcher is currently paused.
func (w *Watcher) Paused() bool {
	return w.paused.Load()
}

// Drain empties any currently-queued events without processing them.
func (w *Watcher) Drain() {
	for {
		select {
		case <-w.Events:
		default:
			return
		}
	}
}

// Close stops the watcher and releases its underlying resources.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
