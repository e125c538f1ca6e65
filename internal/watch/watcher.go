// SPDX-License-Identifier: MPL-2.0

// Package watch keeps discovery results fresh by watching the places
// environments appear: workspace roots, per-user stores, PATH directories and
// the package-manager registry file.
//
// Binary creation is reported after a settle delay so multi-file installs can
// finish; deletion is reported at once; registry changes are debounced.
package watch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/envscout/envscout/internal/probe"
	"github.com/envscout/envscout/internal/scan"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultSettleDelay is the wait between a binary appearing and OnCreated.
	DefaultSettleDelay = time.Second
	// DefaultDebounce is the quiet period before OnRegistryChanged fires.
	DefaultDebounce = 500 * time.Millisecond
	// DefaultPinpointTimeout bounds the life of a per-environment watch.
	DefaultPinpointTimeout = 30 * time.Second
	// DefaultWorkspaceDepth covers an environment at walk depth plus bin/exe.
	DefaultWorkspaceDepth = scan.DefaultMaxDepth + 2

	// maxDirsPerTree stops one huge tree from exhausting the watch limit.
	maxDirsPerTree = 2000
)

// defaultIgnores lists path patterns whose events are always dropped.
var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/__pycache__/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

// ErrWatchLimit is logged when the OS refuses further watches.
var ErrWatchLimit = errors.New("file watch limit reached")

const (
	treeBinary treeKind = iota
	treeMarker
	treeRegistry
	treePinpoint
)

type (
	// Store is a directory of environments watched to a bounded depth.
	Store struct {
		Dir   string
		Depth int
	}

	// Config holds the watch targets and callbacks.
	Config struct {
		// Workspaces are watched deep for the binary and shallow for markers.
		Workspaces []string
		// WorkspaceDepth bounds the deep workspace watch; zero means
		// DefaultWorkspaceDepth.
		WorkspaceDepth int
		Stores         []Store
		// PathDirs are watched for the exact executable name.
		PathDirs []string
		// RegistryFile is watched through its parent directory.
		RegistryFile string
		Target       scan.Target

		SettleDelay     time.Duration
		Debounce        time.Duration
		PinpointTimeout time.Duration

		// Callbacks run on watcher goroutines and must not call Start or
		// Dispose.
		OnCreated         func(path string)
		OnDeleted         func(path string)
		OnRegistryChanged func()

		Logger *log.Logger
	}

	// Watcher is the environment watcher. Start arms it, Dispose releases it;
	// both may be called any number of times.
	Watcher struct {
		cfg    Config
		logger *log.Logger

		mu            sync.Mutex
		gen           uint64
		fsw           *fsnotify.Watcher
		done          chan struct{}
		trees         []*watchTree
		refs          map[string]int
		settle        map[string]*time.Timer
		pinpoints     map[string]*watchTree
		registryTimer *time.Timer
		limited       bool
	}

	treeKind int

	// watchTree is one watched tree: events below root up to depth levels are
	// matched against patterns relative to root.
	watchTree struct {
		kind     treeKind
		root     string
		depth    int
		patterns []string
		dirs     []string
		timer    *time.Timer
	}
)

// New creates a Watcher. It watches nothing until Start is called.
func New(cfg Config) *Watcher {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.PinpointTimeout <= 0 {
		cfg.PinpointTimeout = DefaultPinpointTimeout
	}
	if cfg.WorkspaceDepth <= 0 {
		cfg.WorkspaceDepth = DefaultWorkspaceDepth
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Watcher{cfg: cfg, logger: logger}
}

// Start disposes any existing watches and arms a fresh set.
func (w *Watcher) Start() error {
	w.Dispose()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w.mu.Lock()
	w.gen++
	gen := w.gen
	w.fsw = fsw
	w.limited = false
	w.done = make(chan struct{})
	w.refs = make(map[string]int)
	w.settle = make(map[string]*time.Timer)
	w.pinpoints = make(map[string]*watchTree)
	w.trees = w.buildTrees()
	for _, s := range w.trees {
		w.addTreeLocked(s, s.root, 0)
	}
	watched := len(w.refs)
	done := w.done
	w.mu.Unlock()

	w.logger.Debug("watching", "dirs", watched)
	go w.loop(gen, fsw, done)
	return nil
}

// LimitReached reports whether the OS refused a watch since the last Start.
// Coverage is partial until the limit is raised.
func (w *Watcher) LimitReached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.limited
}

// Dispose releases every watch and cancels pending timers. Pending
// notifications are dropped.
func (w *Watcher) Dispose() {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.gen++
	w.fsw, w.done = nil, nil
	for _, t := range w.settle {
		t.Stop()
	}
	for _, p := range w.pinpoints {
		p.timer.Stop()
	}
	if w.registryTimer != nil {
		w.registryTimer.Stop()
		w.registryTimer = nil
	}
	w.trees, w.settle, w.pinpoints, w.refs = nil, nil, nil, nil
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	if err := fsw.Close(); err != nil {
		w.logger.Debug("close fsnotify", "err", err)
	}
	<-done
}

// Watched returns the number of directories currently watched.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.refs)
}

// binaryPatterns matches the executable in any of the target's bin dirs at
// any depth below a root.
func (w *Watcher) binaryPatterns(prefix string) []string {
	var pats []string
	for _, bin := range w.cfg.Target.BinDirs {
		p := w.cfg.Target.Executable
		if bin != "" {
			p = bin + "/" + p
		}
		pats = append(pats, prefix+p)
	}
	return pats
}

func (w *Watcher) buildTrees() []*watchTree {
	var trees []*watchTree
	for _, root := range w.cfg.Workspaces {
		trees = append(trees, &watchTree{kind: treeBinary, root: root, depth: w.cfg.WorkspaceDepth, patterns: w.binaryPatterns("**/")})
		var markers []string
		for _, m := range w.cfg.Target.Markers {
			markers = append(markers, "*/"+m)
		}
		trees = append(trees, &watchTree{kind: treeMarker, root: root, depth: 2, patterns: markers})
	}
	for _, s := range w.cfg.Stores {
		trees = append(trees, &watchTree{kind: treeBinary, root: s.Dir, depth: s.Depth, patterns: w.binaryPatterns("**/")})
	}
	for _, dir := range probe.Dedupe(w.cfg.PathDirs) {
		trees = append(trees, &watchTree{kind: treeBinary, root: dir, depth: 1, patterns: []string{w.cfg.Target.Executable}})
	}
	if w.cfg.RegistryFile != "" {
		trees = append(trees, &watchTree{
			kind:     treeRegistry,
			root:     filepath.Dir(w.cfg.RegistryFile),
			depth:    1,
			patterns: []string{filepath.Base(w.cfg.RegistryFile)},
		})
	}
	return trees
}

func (w *Watcher) loop(gen uint64, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(gen, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if isFatalFsnotifyError(err) {
				w.mu.Lock()
				w.limited = true
				w.mu.Unlock()
				w.logger.Error("watching stopped", "err", fmt.Errorf("%w: %w", ErrWatchLimit, err))
				return
			}
			w.logger.Debug("fsnotify error", "err", err)
		}
	}
}

// handle dispatches one event. Callbacks run after the lock is released.
func (w *Watcher) handle(gen uint64, ev fsnotify.Event) {
	var deleted []string
	registry := false

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	created := ev.Has(fsnotify.Create)
	removed := ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
	if removed {
		w.forgetDirLocked(ev.Name)
	}
	seen := make(map[*watchTree]bool)
	for _, s := range w.allTreesLocked() {
		rel, ok := s.rel(ev.Name)
		if !ok || ignored(rel) || seen[s] {
			continue
		}
		seen[s] = true
		if created && relDepth(rel) < s.depth && probe.IsDir(ev.Name) {
			// A new directory: extend the watch and catch up on anything
			// written before the watch existed.
			w.addTreeLocked(s, ev.Name, relDepth(rel))
			w.replayLocked(s, ev.Name)
			continue
		}
		if !s.matches(rel) {
			continue
		}
		switch s.kind {
		case treeRegistry:
			registry = true
		case treeMarker:
			if created {
				w.armPinpointLocked(filepath.Dir(ev.Name))
			}
		default:
			switch {
			case created || ev.Has(fsnotify.Write):
				w.scheduleCreatedLocked(ev.Name)
			case removed && !probe.IsFile(ev.Name):
				if t, ok := w.settle[ev.Name]; ok {
					t.Stop()
					delete(w.settle, ev.Name)
				}
				if !slices.Contains(deleted, ev.Name) {
					deleted = append(deleted, ev.Name)
				}
			}
		}
	}
	if registry {
		w.debounceRegistryLocked()
	}
	w.mu.Unlock()

	if w.cfg.OnDeleted != nil {
		for _, p := range deleted {
			w.cfg.OnDeleted(p)
		}
	}
}

func (w *Watcher) allTreesLocked() []*watchTree {
	if len(w.pinpoints) == 0 {
		return w.trees
	}
	all := make([]*watchTree, 0, len(w.trees)+len(w.pinpoints))
	all = append(all, w.trees...)
	for _, p := range w.pinpoints {
		all = append(all, p)
	}
	return all
}

// replayLocked walks a freshly watched directory and treats every matching
// entry as created.
func (w *Watcher) replayLocked(s *watchTree, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error { //nolint:errcheck // best-effort catch-up
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		rel, ok := s.rel(path)
		if !ok || relDepth(rel) > s.depth {
			return filepath.SkipDir
		}
		if d.IsDir() && path != dir && isNoiseDir(d.Name()) {
			return filepath.SkipDir
		}
		if !s.matches(rel) {
			return nil
		}
		switch s.kind {
		case treeMarker:
			w.armPinpointLocked(filepath.Dir(path))
		case treeBinary, treePinpoint:
			if !d.IsDir() {
				w.scheduleCreatedLocked(path)
			}
		}
		return nil
	})
}

// armPinpointLocked watches a just-provisioned environment's bin directories
// so the binary is seen as soon as it lands. The watch cancels itself after
// PinpointTimeout.
func (w *Watcher) armPinpointLocked(envDir string) {
	if _, ok := w.pinpoints[envDir]; ok {
		return
	}
	if bin, ok := w.cfg.Target.Binary(envDir); ok {
		w.scheduleCreatedLocked(bin)
		return
	}
	p := &watchTree{kind: treePinpoint, root: envDir, depth: 2, patterns: w.binaryPatterns("")}
	w.pinpoints[envDir] = p
	w.addTreeLocked(p, envDir, 0)
	gen := w.gen
	p.timer = time.AfterFunc(w.cfg.PinpointTimeout, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if gen != w.gen || w.pinpoints[envDir] != p {
			return
		}
		w.removeTreeLocked(p)
		delete(w.pinpoints, envDir)
		w.logger.Debug("pinpoint watch expired", "env", envDir)
	})
	w.logger.Debug("pinpoint watch armed", "env", envDir)
}

// scheduleCreatedLocked (re)starts the settle timer for path. OnCreated fires
// only if the binary still exists when the timer runs.
func (w *Watcher) scheduleCreatedLocked(path string) {
	if t, ok := w.settle[path]; ok {
		t.Reset(w.cfg.SettleDelay)
		return
	}
	gen := w.gen
	w.settle[path] = time.AfterFunc(w.cfg.SettleDelay, func() {
		w.mu.Lock()
		if gen != w.gen {
			w.mu.Unlock()
			return
		}
		delete(w.settle, path)
		// The binary landed; a pinpoint watch on its environment is done.
		for env, p := range w.pinpoints {
			if _, inside := p.rel(path); inside {
				p.timer.Stop()
				w.removeTreeLocked(p)
				delete(w.pinpoints, env)
			}
		}
		w.mu.Unlock()

		if probe.IsFile(path) && w.cfg.OnCreated != nil {
			w.cfg.OnCreated(path)
		}
	})
}

func (w *Watcher) debounceRegistryLocked() {
	if w.registryTimer != nil {
		w.registryTimer.Reset(w.cfg.Debounce)
		return
	}
	gen := w.gen
	w.registryTimer = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		if gen != w.gen {
			w.mu.Unlock()
			return
		}
		w.registryTimer = nil
		w.mu.Unlock()
		if w.cfg.OnRegistryChanged != nil {
			w.cfg.OnRegistryChanged()
		}
	})
}

// addTreeLocked watches dir and its subdirectories while they are shallower
// than the tree depth. dir sits at level below the tree root.
func (w *Watcher) addTreeLocked(s *watchTree, dir string, level int) {
	if level >= s.depth || len(s.dirs) >= maxDirsPerTree {
		return
	}
	if !w.addDirLocked(s, dir) {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || isNoiseDir(e.Name()) {
			continue
		}
		w.addTreeLocked(s, filepath.Join(dir, e.Name()), level+1)
	}
}

func (w *Watcher) addDirLocked(s *watchTree, dir string) bool {
	if w.fsw == nil {
		return false
	}
	if w.refs[dir] == 0 {
		if !probe.IsDir(dir) {
			return false
		}
		if err := w.fsw.Add(dir); err != nil {
			if isFatalFsnotifyError(err) {
				w.limited = true
				w.logger.Warn("cannot watch directory", "dir", dir, "err", fmt.Errorf("%w: %w", ErrWatchLimit, err))
			} else {
				w.logger.Debug("cannot watch directory", "dir", dir, "err", err)
			}
			return false
		}
	}
	w.refs[dir]++
	s.dirs = append(s.dirs, dir)
	return true
}

func (w *Watcher) removeTreeLocked(s *watchTree) {
	for _, dir := range s.dirs {
		w.refs[dir]--
		if w.refs[dir] > 0 {
			continue
		}
		delete(w.refs, dir)
		if w.fsw != nil {
			_ = w.fsw.Remove(dir) //nolint:errcheck // directory may already be gone
		}
	}
	s.dirs = nil
}

// forgetDirLocked drops dir and everything below it from the watch set, so a
// directory recreated at the same path is watched again.
func (w *Watcher) forgetDirLocked(dir string) {
	below := func(d string) bool {
		return d == dir || strings.HasPrefix(d, dir+string(filepath.Separator))
	}
	for d := range w.refs {
		if !below(d) {
			continue
		}
		delete(w.refs, d)
		if w.fsw != nil {
			_ = w.fsw.Remove(d) //nolint:errcheck // the kernel drops watches on deleted directories
		}
	}
	for _, s := range w.allTreesLocked() {
		s.dirs = slices.DeleteFunc(s.dirs, below)
	}
}

// rel returns path relative to the tree root, or false when outside it.
func (s *watchTree) rel(path string) (string, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (s *watchTree) matches(rel string) bool {
	if relDepth(rel) > s.depth {
		return false
	}
	for _, pat := range s.patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func relDepth(rel string) int {
	if rel == "." || rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

func ignored(rel string) bool {
	for _, pat := range defaultIgnores {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func isNoiseDir(name string) bool {
	for _, pat := range scan.NoiseDirs() {
		if ok, err := doublestar.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}
