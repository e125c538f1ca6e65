// SPDX-License-Identifier: MPL-2.0

// Package envmgr runs the locators, merges their results into one snapshot,
// persists the final union and answers which environment is active.
//
// Every locator runs as one task per discovery run. A run's results are
// published as each task settles; once all tasks have settled the union is
// written to the cache and a recommendation is computed. Invalidate drops
// the task table so the next Start begins a fresh run, and any result still
// in flight from the old run is discarded on arrival.
package envmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/envscout/envscout/internal/envcache"
	"github.com/envscout/envscout/internal/issue"
	"github.com/envscout/envscout/internal/locator"
	"github.com/envscout/envscout/internal/probe"
	"github.com/envscout/envscout/internal/version"

	"github.com/charmbracelet/log"
)

const (
	// ActiveKey is the state-store key holding the selected executable.
	ActiveKey = "active_environment"
	// DefaultStaleAfter is the age after which a finished run is redone.
	DefaultStaleAfter = 30 * time.Second

	// subscriberBuffer is the snapshot backlog kept per subscriber.
	subscriberBuffer = 8
)

const (
	// StateIdle means no run is in progress.
	StateIdle State = iota
	// StateRunning means at least one locator task is outstanding.
	StateRunning
	// StateSettling means every task settled and the union is being persisted.
	StateSettling
	// StateSettled means the last run finished.
	StateSettled
)

// ErrInvalidEnvironment is returned when a selection is not a usable executable.
var ErrInvalidEnvironment = errors.New("not a usable executable")

type (
	// State is the orchestrator lifecycle state.
	State int

	// Snapshot is a point-in-time copy of the discovery results.
	Snapshot struct {
		// Paths in discovery order, without duplicates.
		Paths []string
		// Recommended is the highest-version path of the last settled run.
		Recommended string
		Settled     bool
		Generation  uint64
		StartedAt   time.Time
	}

	// Store is the host key-value store holding the active selection.
	Store interface {
		Get(key string) (string, bool)
		Set(key, value string) error
		Delete(key string) error
	}

	// Restarter starts or restarts the downstream server for an executable.
	Restarter interface {
		Restart(ctx context.Context, executable string) error
	}

	// Clock provides the current time for staleness checks.
	Clock interface {
		Now() time.Time
	}

	// Options configures a Manager. Only Locators is required.
	Options struct {
		Locators []locator.Locator
		Cache    *envcache.Cache
		State    Store
		// Validate reports whether a path is a usable executable.
		Validate func(path string) bool
		// Version reads a version for ranking; nil ranks nothing.
		Version   func(path string) (string, bool)
		Restarter Restarter
		Clock     Clock
		Metrics   *Metrics
		Logger    *log.Logger
	}

	// Callbacks are the watcher hooks wired to the manager.
	Callbacks struct {
		OnCreated         func(path string)
		OnDeleted         func(path string)
		OnRegistryChanged func()
	}

	// Manager is the discovery orchestrator. It is safe for concurrent use.
	Manager struct {
		opts   Options
		ctx    context.Context
		cancel context.CancelFunc

		mu          sync.Mutex
		gen         uint64
		tasks       map[locator.Kind]bool
		paths       []string
		seen        map[string]struct{}
		recommended string
		state       State
		startedAt   time.Time
		done        chan struct{}
		doneClosed  bool
		closed      bool
		subs        map[chan Snapshot]struct{}
	}

	realClock struct{}
)

func (realClock) Now() time.Time { return time.Now() }

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSettling:
		return "settling"
	case StateSettled:
		return "settled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// New creates a Manager. Discovery starts with the first Start or Discover.
func New(opts Options) *Manager {
	if opts.Validate == nil {
		opts.Validate = probe.Validate
	}
	if opts.Version == nil {
		opts.Version = func(string) (string, bool) { return "", false }
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		seen:   make(map[string]struct{}),
		done:   make(chan struct{}),
		subs:   make(map[chan Snapshot]struct{}),
	}
}

// Metrics returns the manager's instruments.
func (m *Manager) Metrics() *Metrics { return m.opts.Metrics }

// State reports the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the current results.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Start launches every locator unless a run already exists. The accumulator
// is reset so only paths found by this run are reported.
func (m *Manager) Start(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks != nil || m.closed {
		return
	}

	m.gen++
	gen := m.gen
	m.tasks = make(map[locator.Kind]bool, len(m.opts.Locators))
	m.paths = nil
	m.seen = make(map[string]struct{})
	m.state = StateRunning
	m.startedAt = m.opts.Clock.Now()
	if m.doneClosed {
		m.done = make(chan struct{})
		m.doneClosed = false
	}
	m.opts.Metrics.Runs.Inc()
	m.opts.Logger.Debug("discovery started", "generation", gen, "locators", len(m.opts.Locators))

	for _, loc := range m.opts.Locators {
		m.tasks[loc.Kind()] = false
	}
	for _, loc := range m.opts.Locators {
		go m.run(gen, loc)
	}
	if len(m.opts.Locators) == 0 {
		go m.settle(gen, nil)
	}
	m.publishLocked()
}

func (m *Manager) run(gen uint64, loc locator.Locator) {
	start := time.Now()
	paths := m.locate(loc)
	elapsed := time.Since(start)

	kind := loc.Kind().String()
	m.opts.Metrics.LocatorDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	m.opts.Logger.Debug("locator settled", "locator", kind, "found", len(paths), "took", elapsed)
	m.complete(gen, loc.Kind(), paths)
}

// locate runs one locator. A panic is a locator with no results.
func (m *Manager) locate(loc locator.Locator) (paths []string) {
	defer func() {
		if r := recover(); r != nil {
			m.opts.Logger.Warn("locator failed", "locator", loc.Kind(), "err", fmt.Sprint(r))
			paths = nil
		}
	}()
	return loc.Locate(m.ctx)
}

func (m *Manager) complete(gen uint64, kind locator.Kind, paths []string) {
	m.mu.Lock()
	if gen != m.gen || m.tasks == nil {
		m.mu.Unlock()
		m.opts.Metrics.DroppedResults.Inc()
		m.opts.Logger.Debug("dropping superseded results", "locator", kind, "generation", gen)
		return
	}
	m.tasks[kind] = true
	m.opts.Metrics.LocatorResults.WithLabelValues(kind.String()).Set(float64(len(paths)))
	m.mergeLocked(paths)
	m.publishLocked()

	for _, settled := range m.tasks {
		if !settled {
			m.mu.Unlock()
			return
		}
	}
	m.state = StateSettling
	union := slices.Clone(m.paths)
	m.mu.Unlock()

	m.settle(gen, union)
}

// settle persists the union of a finished run and publishes the
// recommendation. Nothing is written if the run was superseded meanwhile.
func (m *Manager) settle(gen uint64, union []string) {
	recommended := version.Highest(union, m.opts.Version)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.tasks == nil {
		return
	}
	if m.opts.Cache != nil {
		m.opts.Cache.Save(union)
		m.opts.Metrics.CacheWrites.Inc()
	}
	m.recommended = recommended
	m.state = StateSettled
	m.opts.Metrics.EnvironmentsFound.Set(float64(len(union)))
	m.opts.Logger.Debug("discovery settled", "environments", len(union), "recommended", recommended)
	m.closeDoneLocked()
	m.publishLocked()
}

func (m *Manager) mergeLocked(paths []string) {
	for _, p := range paths {
		if _, dup := m.seen[p]; dup {
			continue
		}
		m.seen[p] = struct{}{}
		m.paths = append(m.paths, p)
	}
}

func (m *Manager) closeDoneLocked() {
	if !m.doneClosed {
		close(m.done)
		m.doneClosed = true
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Paths:       slices.Clone(m.paths),
		Recommended: m.recommended,
		Settled:     m.state == StateSettled,
		Generation:  m.gen,
		StartedAt:   m.startedAt,
	}
}

// publishLocked sends the snapshot to every subscriber. A slow subscriber
// loses its oldest pending snapshot rather than blocking discovery.
func (m *Manager) publishLocked() {
	if len(m.subs) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for ch := range m.subs {
		for {
			select {
			case ch <- snap:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe returns a channel receiving a snapshot after every change,
// starting with the current one. The returned func unsubscribes.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	m.subs[ch] = struct{}{}
	ch <- m.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[ch]; ok {
				delete(m.subs, ch)
				close(ch)
			}
		})
	}
}

// Invalidate forgets the current run. The snapshot stays readable but is no
// longer settled, and the next Start begins a new run.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked()
	m.publishLocked()
}

func (m *Manager) invalidateLocked() {
	m.tasks = nil
	m.gen++
	m.state = StateIdle
	m.closeDoneLocked()
}

// Refresh invalidates and starts a new run.
func (m *Manager) Refresh(ctx context.Context) {
	m.Invalidate()
	m.Start(ctx)
}

// Stale reports whether the last run started more than window ago, or
// whether no run happened yet.
func (m *Manager) Stale(window time.Duration) bool {
	if window <= 0 {
		window = DefaultStaleAfter
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startedAt.IsZero() {
		return true
	}
	return m.opts.Clock.Now().Sub(m.startedAt) > window
}

// Remove prunes a path confirmed deleted from the snapshot and the cache,
// then invalidates the run so no stale result can bring it back.
func (m *Manager) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[path]; ok {
		delete(m.seen, path)
		m.paths = slices.DeleteFunc(m.paths, func(p string) bool { return p == path })
	}
	if m.recommended == path {
		m.recommended = ""
	}
	if m.opts.Cache != nil {
		if cached, ok := m.opts.Cache.Load(); ok && slices.Contains(cached, path) {
			m.opts.Cache.Save(slices.DeleteFunc(cached, func(p string) bool { return p == path }))
			m.opts.Metrics.CacheWrites.Inc()
		}
	}
	m.opts.Logger.Debug("environment removed", "path", path)
	m.invalidateLocked()
	m.publishLocked()
}

// Add merges a newly created executable into the snapshot and the cache.
// It reports false when path is not a usable executable.
func (m *Manager) Add(path string) bool {
	if !m.opts.Validate(path) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mergeLocked([]string{path})
	if m.opts.Cache != nil {
		cached, _ := m.opts.Cache.Load()
		if !slices.Contains(cached, path) {
			m.opts.Cache.Save(append(cached, path))
			m.opts.Metrics.CacheWrites.Inc()
		}
	}
	m.opts.Logger.Debug("environment added", "path", path)
	m.publishLocked()
	return true
}

// WatchCallbacks returns watcher hooks: creation and deletion update the
// snapshot at once, and every change triggers a fresh run.
func (m *Manager) WatchCallbacks() Callbacks {
	return Callbacks{
		OnCreated: func(path string) {
			m.Add(path)
			m.Refresh(m.ctx)
		},
		OnDeleted: func(path string) {
			m.Remove(path)
			m.Start(m.ctx)
		},
		OnRegistryChanged: func() {
			m.Refresh(m.ctx)
		},
	}
}

// Discover starts a run if needed and waits until a run settles.
func (m *Manager) Discover(ctx context.Context) (Snapshot, error) {
	for {
		m.Start(ctx)
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Snapshot{}, errors.New("environment manager closed")
		}
		if m.state == StateSettled {
			snap := m.snapshotLocked()
			m.mu.Unlock()
			return snap, nil
		}
		done := m.done
		m.mu.Unlock()

		select {
		case <-done:
			// Settled or invalidated; loop to find out which.
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		}
	}
}

// Cached returns the last persisted environment set.
func (m *Manager) Cached() ([]string, bool) {
	if m.opts.Cache == nil {
		return nil, false
	}
	return m.opts.Cache.Load()
}

// Active returns the selected executable. A persisted selection that no
// longer validates is cleared; without a selection the recommendation is
// returned but not persisted.
func (m *Manager) Active() (string, bool) {
	if m.opts.State != nil {
		if sel, ok := m.opts.State.Get(ActiveKey); ok && sel != "" {
			if m.opts.Validate(sel) {
				return sel, true
			}
			m.opts.Logger.Info("clearing invalid selection", "path", sel)
			if err := m.opts.State.Delete(ActiveKey); err != nil {
				m.opts.Logger.Warn("could not clear selection", "err", err)
			}
		}
	}

	m.mu.Lock()
	recommended := m.recommended
	m.mu.Unlock()
	if recommended != "" && m.opts.Validate(recommended) {
		return recommended, true
	}

	cached, _ := m.Cached()
	valid := slices.DeleteFunc(slices.Clone(cached), func(p string) bool { return !m.opts.Validate(p) })
	if best := version.Highest(valid, m.opts.Version); best != "" {
		return best, true
	}
	return "", false
}

// Select validates and persists path as the active executable, starts a
// fresh run and restarts the downstream server.
func (m *Manager) Select(ctx context.Context, path string) error {
	path = strings.TrimSpace(path)
	if !m.opts.Validate(path) {
		return issue.NewErrorContext().
			WithOperation("select environment").
			WithResource(path).
			WithSuggestion("Pass the interpreter binary, not its environment directory").
			WithSuggestion("Run 'envscout discover' to list usable interpreters").
			Wrap(ErrInvalidEnvironment).
			BuildError()
	}
	if m.opts.State != nil {
		if err := m.opts.State.Set(ActiveKey, path); err != nil {
			return issue.NewErrorContext().
				WithOperation("save selection").
				WithResource(path).
				Wrap(err).
				BuildError()
		}
	}
	m.opts.Logger.Info("environment selected", "path", path)
	m.Refresh(ctx)

	if m.opts.Restarter == nil {
		return nil
	}
	if err := m.opts.Restarter.Restart(ctx, path); err != nil {
		return fmt.Errorf("restart server: %w", err)
	}
	return nil
}

// Close stops accepting runs, cancels in-flight locators and closes every
// subscription.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.invalidateLocked()
	for ch := range m.subs {
		close(ch)
	}
	clear(m.subs)
}
