// Package watch tracks staleness between the indexed corpus and the working
// tree. At index time the engine records a sha256 baseline for every entity
// source path; an fsnotify watcher then marks paths whose content drifts from
// the baseline. Query results touching a stale path carry the
// watch_state_missing coverage gap until the next re-index.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// DefaultDebounce coalesces bursts of events on the same path.
const DefaultDebounce = 100 * time.Millisecond

var (
	// ErrNoRoot indicates no watch root was specified.
	ErrNoRoot = errors.New("watch root is required")

	// ErrRootNotDirectory indicates the watch root is not a directory.
	ErrRootNotDirectory = errors.New("watch root is not a directory")

	// ErrInvalidPattern indicates an exclude pattern could not be compiled.
	ErrInvalidPattern = errors.New("invalid exclude pattern")
)

// Config configures the watcher.
type Config struct {
	// Root is the directory the corpus paths are relative to.
	Root string

	// ExcludePatterns are glob patterns for paths to ignore.
	ExcludePatterns []string

	// Debounce coalesces same-path event bursts; zero uses the default.
	Debounce time.Duration
}

// Checksum returns the hex sha256 of the file's content.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// pendingCheck is one debounced recheck in flight.
type pendingCheck struct {
	timer *time.Timer
}

// Watcher compares watched paths against the recorded baseline. Safe for
// concurrent use; queries read staleness while the event loop writes it.
type Watcher struct {
	config   Config
	excludes []glob.Glob
	logger   *slog.Logger

	watcher *fsnotify.Watcher

	mu       sync.Mutex
	baseline map[string]string
	stale    map[string]struct{}
	pending  map[string]*pendingCheck
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Watcher rooted at cfg.Root. The baseline starts empty; call
// SetBaseline after each index.
func New(cfg Config, logger *slog.Logger) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, ErrNoRoot
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrRootNotDirectory
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	excludes := make([]glob.Glob, 0, len(cfg.ExcludePatterns))
	for _, pattern := range cfg.ExcludePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		excludes = append(excludes, g)
	}

	return &Watcher{
		config:   cfg,
		excludes: excludes,
		logger:   logger,
		baseline: make(map[string]string),
		stale:    make(map[string]struct{}),
		pending:  make(map[string]*pendingCheck),
		done:     make(chan struct{}),
	}, nil
}

// SetBaseline records checksums for the given root-relative paths and clears
// all staleness. Paths that cannot be read enter the baseline as stale
// immediately: the index claims an entity whose source is already gone.
func (w *Watcher) SetBaseline(paths []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.baseline = make(map[string]string, len(paths))
	w.stale = make(map[string]struct{})
	for _, rel := range paths {
		sum, err := Checksum(filepath.Join(w.config.Root, rel))
		if err != nil {
			w.baseline[rel] = ""
			w.stale[rel] = struct{}{}
			continue
		}
		w.baseline[rel] = sum
	}
}

// Start begins watching the root recursively. Watching runs until the
// context ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	if err := w.addRecursive(w.config.Root); err != nil {
		_ = fsw.Close()
		return err
	}

	go w.loop(ctx)
	return nil
}

// Stop ends the watch loop.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// IsStale reports whether the root-relative path drifted from its baseline.
func (w *Watcher) IsStale(rel string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.stale[rel]
	return ok
}

// StalePaths returns the currently stale root-relative paths, sorted.
func (w *Watcher) StalePaths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, 0, len(w.stale))
	for rel := range w.stale {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths
}

// TrackedCount returns the number of baseline paths.
func (w *Watcher) TrackedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.baseline)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.isExcluded(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) isExcluded(path string) bool {
	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil {
		return false
	}
	for _, g := range w.excludes {
		if g.Match(rel) || g.Match(path) {
			return true
		}
	}
	return false
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.isExcluded(event.Name) {
		return
	}

	// New directories join the recursive watch.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
			return
		}
	}

	rel, err := filepath.Rel(w.config.Root, event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, tracked := w.baseline[rel]; !tracked {
		return
	}
	w.schedule(rel)
}

// schedule arms (or re-arms) the debounced recheck for a path. Caller holds
// the mutex.
func (w *Watcher) schedule(rel string) {
	if p, ok := w.pending[rel]; ok {
		p.timer.Reset(w.config.Debounce)
		return
	}
	w.pending[rel] = &pendingCheck{
		timer: time.AfterFunc(w.config.Debounce, func() { w.recheck(rel) }),
	}
}

// recheck compares the path against its baseline once the debounce settles.
// A touch that leaves content identical clears staleness; drift or a missing
// file sets it.
func (w *Watcher) recheck(rel string) {
	sum, err := Checksum(filepath.Join(w.config.Root, rel))

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, rel)

	want, tracked := w.baseline[rel]
	if !tracked {
		return
	}
	if err != nil || sum != want {
		if _, already := w.stale[rel]; !already {
			w.logger.Info("source drifted from index", "path", rel)
		}
		w.stale[rel] = struct{}{}
		return
	}
	delete(w.stale, rel)
}
