// Package notifier is the abstract file-watch client: subscribe to a
// root with a glob expression, receive batched change events. Glob
// matching is delegated to doublestar; recursive watch registration
// and settling-delay debounce happen underneath it.
package notifier

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/poltergeist/poltergeist/internal/logger"
	"github.com/poltergeist/poltergeist/internal/types"
)

// Change describes one filesystem event after OS-level normalization.
type Change struct {
	Path       string
	ChangeType types.ChangeType
	Exists     bool
}

// Callback receives a batch of changes that matched one subscription's
// patterns, already settled and deduplicated.
type Callback func(changes []Change)

// defaultExclusions covers the usual VCS/build-output noise.
var defaultExclusions = []string{".git", "node_modules", ".build", "dist", "build", ".poltergeist"}

// Config tunes exclusion and batching behavior.
type Config struct {
	UseDefaultExclusions bool
	ExcludeDirs          []string
	SettlingDelay        time.Duration
}

type subscription struct {
	root     string
	patterns []string
	exclude  []string
	callback Callback

	mu      sync.Mutex
	pending map[string]Change
	timer   *time.Timer
}

// Notifier is an fsnotify-backed implementation of the abstract
// file-watch client.
type Notifier struct {
	watcher *fsnotify.Watcher
	log     logger.Logger
	cfg     Config

	mu   sync.RWMutex
	subs []*subscription

	stop chan struct{}
	wg   sync.WaitGroup
}

// New connects the OS-level watcher. A non-nil error is fatal at
// startup and should be retried with backoff by the caller.
func New(cfg Config, log logger.Logger) (*Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start file watcher: %w", err)
	}
	n := &Notifier{watcher: w, log: log, cfg: cfg, stop: make(chan struct{})}
	n.wg.Add(1)
	go n.loop()
	return n, nil
}

// Subscribe watches root for changes matching any of patterns (doublestar
// glob syntax, e.g. "src/**/*.ts"), batching matches with the configured
// settling delay before invoking cb. Multiple logical subscriptions
// against the same root+pattern-set may share one underlying watch.
func (n *Notifier) Subscribe(root string, patterns []string, cb Callback) error {
	if err := n.addRecursive(root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}

	exclude := append([]string{}, defaultExclusions...)
	if n.cfg.UseDefaultExclusions {
		exclude = append(exclude, n.cfg.ExcludeDirs...)
	} else {
		exclude = append([]string{}, n.cfg.ExcludeDirs...)
	}

	sub := &subscription{
		root:     filepath.Clean(root),
		patterns: patterns,
		exclude:  exclude,
		callback: cb,
		pending:  make(map[string]Change),
	}
	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()
	return nil
}

// Close stops the watcher and all subscription timers.
func (n *Notifier) Close() error {
	close(n.stop)
	n.wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.subs {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
	}
	return n.watcher.Close()
}

func (n *Notifier) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if isExcluded(path, defaultExclusions) {
				return filepath.SkipDir
			}
			return n.watcher.Add(path)
		}
		return nil
	})
}

func (n *Notifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stop:
			return
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			n.dispatch(ev)
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.log.Warn("notifier error", logger.WithField("error", err.Error()))
		}
	}
}

func (n *Notifier) dispatch(ev fsnotify.Event) {
	change := convertEvent(ev)

	if ev.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = n.addRecursive(ev.Name)
		}
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	var best *subscription
	for _, s := range n.subs {
		if !isUnder(s.root, ev.Name) {
			continue
		}
		if best == nil || len(s.root) > len(best.root) {
			best = s
		}
	}
	if best == nil {
		return
	}
	if isExcluded(ev.Name, best.exclude) {
		return
	}
	if !matchesAny(best.root, ev.Name, best.patterns) {
		return
	}

	best.mu.Lock()
	best.pending[change.Path] = change
	if best.timer != nil {
		best.timer.Stop()
	}
	delay := n.cfg.SettlingDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	sub := best
	best.timer = time.AfterFunc(delay, func() {
		sub.mu.Lock()
		batch := make([]Change, 0, len(sub.pending))
		for _, c := range sub.pending {
			batch = append(batch, c)
		}
		sub.pending = make(map[string]Change)
		sub.mu.Unlock()
		if len(batch) > 0 {
			sub.callback(batch)
		}
	})
	best.mu.Unlock()
}

func convertEvent(ev fsnotify.Event) Change {
	ct := types.ChangeModified
	exists := true
	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		ct = types.ChangeCreated
	case ev.Op&fsnotify.Remove == fsnotify.Remove:
		ct = types.ChangeDeleted
		exists = false
	case ev.Op&fsnotify.Rename == fsnotify.Rename:
		ct = types.ChangeRenamed
		exists = false
	case ev.Op&fsnotify.Write == fsnotify.Write:
		ct = types.ChangeModified
	}
	if _, err := os.Stat(ev.Name); err != nil {
		exists = false
	}
	return Change{Path: ev.Name, ChangeType: ct, Exists: exists}
}

func isUnder(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

func isExcluded(path string, exclusions []string) bool {
	base := filepath.Base(path)
	for _, ex := range exclusions {
		if base == ex {
			return true
		}
	}
	return false
}

func matchesAny(root, path string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
