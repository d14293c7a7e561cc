package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is a change that passed the ignore filter.
type Event struct {
	App  string
	Path string // absolute path of the changed file
	Rel  string // path relative to the watch root that contains it
	Op   fsnotify.Op
	At   time.Time
}

// WatchError reports a watch root that could not be watched or disappeared.
// The root is disabled; other roots keep working.
type WatchError struct {
	App  string
	Path string
	Err  error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("watch %s: %s: %v", e.App, e.Path, e.Err)
}

func (e *WatchError) Unwrap() error { return e.Err }

// Options configures one app's watcher.
type Options struct {
	App    string
	Roots  []string // absolute files or directories
	Ignore []string // see Matcher
	Delay  time.Duration
	Logger *slog.Logger
}

// Watcher observes an app's roots recursively and calls onChange once per
// burst of relevant changes.
type Watcher struct {
	app    string
	logger *slog.Logger
	ignore *Matcher
	fsw    *fsnotify.Watcher
	deb    *Debouncer

	mu       sync.Mutex
	roots    []string            // directory roots
	files    map[string]struct{} // single-file roots
	dirs     map[string]struct{} // every directory registered with fsnotify
	disabled []*WatchError

	events    chan Event
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Watch starts watching opts.Roots. Roots that cannot be watched are logged
// and reported by Disabled; they do not fail the call. The watcher stops
// when ctx is done or Close is called; a closed watcher can be replaced by
// calling Watch again.
func Watch(ctx context.Context, opts Options, onChange func(app string)) (*Watcher, error) {
	ignore, err := NewMatcher(opts.Ignore)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		app:     opts.App,
		logger:  logger.With("app", opts.App, "component", "watch"),
		ignore:  ignore,
		fsw:     fsw,
		files:   make(map[string]struct{}),
		dirs:    make(map[string]struct{}),
		events:  make(chan Event, 64),
		closeCh: make(chan struct{}),
	}
	w.deb = NewDebouncer(opts.Delay, func() { onChange(opts.App) })

	for _, root := range opts.Roots {
		if err := w.addRoot(root); err != nil {
			werr := &WatchError{App: opts.App, Path: root, Err: err}
			w.disabled = append(w.disabled, werr)
			w.logger.Warn("Watch root disabled", "path", root, "error", err)
		}
	}

	w.wg.Add(1)
	go w.loop()
	go func() {
		select {
		case <-ctx.Done():
			_ = w.Close()
		case <-w.closeCh:
		}
	}()
	return w, nil
}

func (w *Watcher) addRoot(root string) error {
	root = filepath.Clean(root)
	fi, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		parent := filepath.Dir(root)
		if err := w.addDir(parent); err != nil {
			return err
		}
		w.mu.Lock()
		w.files[root] = struct{}{}
		w.mu.Unlock()
		return nil
	}
	w.mu.Lock()
	w.roots = append(w.roots, root)
	w.mu.Unlock()
	return w.addTree(root)
}

// addTree registers dir and every non-ignored directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			w.logger.Debug("Skipping unreadable path", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && w.ignored(p) {
			return filepath.SkipDir
		}
		if err := w.addDir(p); err != nil {
			if p == dir {
				return err
			}
			w.logger.Debug("Cannot watch directory", "path", p, "error", err)
		}
		return nil
	})
}

func (w *Watcher) addDir(dir string) error {
	w.mu.Lock()
	_, ok := w.dirs[dir]
	w.mu.Unlock()
	if ok {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.dirs[dir] = struct{}{}
	w.mu.Unlock()
	return nil
}

// ignored reports whether p matches the ignore set relative to any root that
// contains it, so overlapping roots cannot bypass a pattern.
func (w *Watcher) ignored(p string) bool {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	_, isFileRoot := w.files[p]
	w.mu.Unlock()

	if isFileRoot && w.ignore.Match(filepath.Base(p)) {
		return true
	}
	for _, root := range roots {
		rel, ok := relTo(root, p)
		if ok && w.ignore.Match(rel) {
			return true
		}
	}
	return false
}

func relTo(root, p string) (string, bool) {
	if p == root {
		return ".", true
	}
	if !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", false
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", false
	}
	return rel, true
}

// relevant reports whether p lies in the watched set, returning its path
// relative to the first containing root.
func (w *Watcher) relevant(p string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[p]; ok {
		return filepath.Base(p), true
	}
	for _, root := range w.roots {
		if rel, ok := relTo(root, p); ok && rel != "." {
			return rel, true
		}
	}
	return "", false
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	p := filepath.Clean(ev.Name)

	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		w.forget(p)
	}

	rel, ok := w.relevant(p)
	if !ok {
		return
	}
	if w.ignored(p) {
		w.logger.Debug("Ignored change", "path", rel)
		return
	}
	if ev.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			if err := w.addTree(p); err != nil {
				w.logger.Debug("Cannot watch new directory", "path", p, "error", err)
			}
		}
	}

	e := Event{App: w.app, Path: p, Rel: rel, Op: ev.Op, At: time.Now()}
	select {
	case w.events <- e:
	default:
		// nobody is draining Events; onChange still fires
	}
	w.deb.Trigger()
}

// forget drops bookkeeping for a removed directory and disables removed roots.
func (w *Watcher) forget(p string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.dirs, p)
	for i, root := range w.roots {
		if root == p {
			w.roots = append(w.roots[:i], w.roots[i+1:]...)
			werr := &WatchError{App: w.app, Path: p, Err: fs.ErrNotExist}
			w.disabled = append(w.disabled, werr)
			w.logger.Warn("Watch root removed", "path", p)
			break
		}
	}
}

// Events returns filtered change events as they happen, before debouncing.
// The channel is closed by Close. Draining it is optional.
func (w *Watcher) Events() <-chan Event { return w.events }

// Disabled returns the roots that could not be watched.
func (w *Watcher) Disabled() []*WatchError {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*WatchError(nil), w.disabled...)
}

// Err joins Disabled into one error, or nil.
func (w *Watcher) Err() error {
	ds := w.Disabled()
	errs := make([]error, 0, len(ds))
	for _, d := range ds {
		errs = append(errs, d)
	}
	return errors.Join(errs...)
}

// WatchedDirs returns the number of directories registered with fsnotify.
func (w *Watcher) WatchedDirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Close stops the watcher and cancels any pending onChange. It is safe to
// call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)
		w.deb.Stop()
		err = w.fsw.Close()
		w.wg.Wait()
		close(w.events)
	})
	return err
}
