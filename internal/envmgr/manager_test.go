// SPDX-License-Identifier: MPL-2.0

package envmgr

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/envscout/envscout/internal/envcache"
	"github.com/envscout/envscout/internal/locator"
	"github.com/envscout/envscout/internal/testutil"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

const waitTimeout = 5 * time.Second

type fakeLocator struct {
	kind    locator.Kind
	paths   []string
	release chan struct{}
	panics  bool
}

func (f *fakeLocator) Kind() locator.Kind { return f.kind }

func (f *fakeLocator) Locate(ctx context.Context) []string {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil
		}
	}
	if f.panics {
		panic("boom")
	}
	return f.paths
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (s *memStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *memStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

type fakeRestarter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *fakeRestarter) Restart(_ context.Context, executable string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, executable)
	return r.err
}

// fixture holds a manager over fake locators where only paths listed in
// valid are usable and versions come from a map.
type fixture struct {
	mgr      *Manager
	cache    *envcache.Cache
	store    *memStore
	clock    *testutil.FakeClock
	valid    map[string]bool
	versions map[string]string
}

func newFixture(t *testing.T, locs ...locator.Locator) *fixture {
	t.Helper()
	f := &fixture{
		cache:    envcache.New(filepath.Join(t.TempDir(), envcache.FileName), nil),
		store:    newMemStore(),
		clock:    testutil.NewFakeClock(time.Time{}),
		valid:    make(map[string]bool),
		versions: make(map[string]string),
	}
	var mu sync.Mutex
	f.mgr = New(Options{
		Locators: locs,
		Cache:    f.cache,
		State:    f.store,
		Validate: func(p string) bool {
			mu.Lock()
			defer mu.Unlock()
			return f.valid[p]
		},
		Version: func(p string) (string, bool) {
			mu.Lock()
			defer mu.Unlock()
			v, ok := f.versions[p]
			return v, ok
		},
		Clock: f.clock,
	})
	t.Cleanup(f.mgr.Close)
	return f
}

func discover(t *testing.T, m *Manager) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	snap, err := m.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	return snap
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDiscoverMergesAndPersists(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		&fakeLocator{kind: locator.KindPath, paths: []string{"/usr/bin/python", "/a/bin/python"}},
		&fakeLocator{kind: locator.KindWorkspace, paths: []string{"/a/bin/python", "/b/bin/python"}},
		&fakeLocator{kind: locator.KindHome},
	)
	f.versions["/a/bin/python"] = "3.11.4"
	f.versions["/b/bin/python"] = "3.12.1"

	snap := discover(t, f.mgr)
	if !snap.Settled {
		t.Fatal("snapshot not settled")
	}
	if len(snap.Paths) != 3 {
		t.Fatalf("Paths = %v, want 3 distinct entries", snap.Paths)
	}
	if snap.Recommended != "/b/bin/python" {
		t.Errorf("Recommended = %q, want /b/bin/python", snap.Recommended)
	}

	cached, ok := f.cache.Load()
	if !ok {
		t.Fatal("cache not written after settle")
	}
	slices.Sort(cached)
	want := []string{"/a/bin/python", "/b/bin/python", "/usr/bin/python"}
	if !slices.Equal(cached, want) {
		t.Errorf("cache = %v, want %v", cached, want)
	}

	m := f.mgr.Metrics()
	if got := promtest.ToFloat64(m.EnvironmentsFound); got != 3 {
		t.Errorf("environments_found = %v, want 3", got)
	}
	if got := promtest.ToFloat64(m.Runs); got != 1 {
		t.Errorf("discovery_runs_total = %v, want 1", got)
	}
	if got := promtest.ToFloat64(m.LocatorResults.WithLabelValues("path")); got != 2 {
		t.Errorf("locator_results{path} = %v, want 2", got)
	}
}

func TestDiscoverIndependentOfCompletionOrder(t *testing.T) {
	t.Parallel()

	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{3, 0, 2, 1},
		{0, 1, 3, 2},
	}
	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			t.Parallel()

			locs := []*fakeLocator{
				{kind: locator.KindPath, paths: []string{"/p", "/x"}},
				{kind: locator.KindWorkspace, paths: []string{"/w", "/x"}},
				{kind: locator.KindHome, paths: []string{"/h"}},
				{kind: locator.KindRegistry, paths: []string{"/r", "/p"}},
			}
			generic := make([]locator.Locator, len(locs))
			for i, l := range locs {
				l.release = make(chan struct{})
				generic[i] = l
			}
			f := newFixture(t, generic...)
			f.versions["/r"], f.versions["/x"] = "3.12.0", "3.11.9"

			f.mgr.Start(context.Background())
			for n, i := range order {
				close(locs[i].release)
				want := locs[i].paths
				eventually(t, fmt.Sprintf("%s results", locs[i].kind), func() bool {
					got := f.mgr.Snapshot().Paths
					return slices.Contains(got, want[0]) && slices.Contains(got, want[len(want)-1])
				})
				if n == len(order)-1 {
					break
				}
				if f.mgr.Snapshot().Settled {
					t.Fatalf("settled after %d of %d locators", n+1, len(order))
				}
				if _, ok := f.cache.Load(); ok {
					t.Fatalf("cache written after %d of %d locators", n+1, len(order))
				}
			}

			snap := discover(t, f.mgr)
			want := []string{"/h", "/p", "/r", "/w", "/x"}
			got := slices.Sorted(slices.Values(snap.Paths))
			if !slices.Equal(got, want) {
				t.Errorf("Paths = %v, want %v", got, want)
			}
			if !snap.Settled || snap.Generation != 1 || snap.Recommended != "/r" {
				t.Errorf("snapshot = %+v, want settled generation 1 recommending /r", snap)
			}
			cached, ok := f.cache.Load()
			if !ok {
				t.Fatal("cache not written after the last locator finished")
			}
			slices.Sort(cached)
			if !slices.Equal(cached, want) {
				t.Errorf("cache = %v, want %v", cached, want)
			}
			if got := promtest.ToFloat64(f.mgr.Metrics().CacheWrites); got != 1 {
				t.Errorf("cache_writes_total = %v, want 1", got)
			}
		})
	}
}

func TestDiscoverWithoutLocators(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	snap := discover(t, f.mgr)
	if !snap.Settled || len(snap.Paths) != 0 {
		t.Errorf("snapshot = %+v, want settled and empty", snap)
	}
}

func TestStartIsNoOpWhileRunning(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f := newFixture(t, &fakeLocator{kind: locator.KindPath, paths: []string{"/x"}, release: release})
	f.mgr.Start(context.Background())
	gen := f.mgr.Snapshot().Generation
	f.mgr.Start(context.Background())
	if got := f.mgr.Snapshot().Generation; got != gen {
		t.Errorf("second Start() began a new run: generation %d -> %d", gen, got)
	}
	if f.mgr.State() != StateRunning {
		t.Errorf("State() = %s, want running", f.mgr.State())
	}
	close(release)
	discover(t, f.mgr)
}

func TestInvalidateDropsInFlightResults(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f := newFixture(t, &fakeLocator{kind: locator.KindPath, paths: []string{"/deleted/bin/python"}, release: release})

	f.mgr.Start(context.Background())
	f.mgr.Invalidate()
	close(release)

	dropped := f.mgr.Metrics().DroppedResults
	eventually(t, "dropped result", func() bool { return promtest.ToFloat64(dropped) == 1 })

	if snap := f.mgr.Snapshot(); len(snap.Paths) != 0 || snap.Settled {
		t.Errorf("snapshot after invalidate = %+v, want empty and unsettled", snap)
	}
	if _, ok := f.cache.Load(); ok {
		t.Error("superseded run wrote the cache")
	}
}

func TestRemovePrunesSnapshotAndCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeLocator{kind: locator.KindPath, paths: []string{"/a", "/b"}})
	f.versions["/b"] = "3.12"
	discover(t, f.mgr)

	f.mgr.Remove("/b")

	snap := f.mgr.Snapshot()
	if slices.Contains(snap.Paths, "/b") || snap.Recommended == "/b" {
		t.Errorf("snapshot still references removed path: %+v", snap)
	}
	if snap.Settled {
		t.Error("Remove() did not invalidate the run")
	}
	cached, _ := f.cache.Load()
	if !slices.Equal(cached, []string{"/a"}) {
		t.Errorf("cache = %v, want [/a]", cached)
	}
}

func TestAddValidatesAndPersists(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if f.mgr.Add("/nope") {
		t.Error("Add() accepted an invalid path")
	}
	f.valid["/new/bin/python"] = true
	if !f.mgr.Add("/new/bin/python") {
		t.Fatal("Add() rejected a valid path")
	}
	f.mgr.Add("/new/bin/python")

	if got := f.mgr.Snapshot().Paths; !slices.Equal(got, []string{"/new/bin/python"}) {
		t.Errorf("Paths = %v", got)
	}
	cached, _ := f.cache.Load()
	if !slices.Equal(cached, []string{"/new/bin/python"}) {
		t.Errorf("cache = %v", cached)
	}
}

func TestActive(t *testing.T) {
	t.Parallel()

	t.Run("persisted selection", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.valid["/sel"] = true
		f.store.data[ActiveKey] = "/sel"
		if got, ok := f.mgr.Active(); !ok || got != "/sel" {
			t.Errorf("Active() = %q, %v", got, ok)
		}
	})

	t.Run("invalid selection cleared", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.store.data[ActiveKey] = "/gone"
		if _, ok := f.mgr.Active(); ok {
			t.Error("Active() returned an invalid selection")
		}
		if _, ok := f.store.Get(ActiveKey); ok {
			t.Error("invalid selection was not cleared")
		}
	})

	t.Run("recommendation not persisted", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &fakeLocator{kind: locator.KindPath, paths: []string{"/a", "/b"}})
		f.valid["/a"], f.valid["/b"] = true, true
		f.versions["/a"], f.versions["/b"] = "3.13.0", "3.9.1"
		discover(t, f.mgr)

		if got, ok := f.mgr.Active(); !ok || got != "/a" {
			t.Errorf("Active() = %q, %v, want /a", got, ok)
		}
		if _, ok := f.store.Get(ActiveKey); ok {
			t.Error("automatic choice was persisted")
		}
	})

	t.Run("cached fallback", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.cache.Save([]string{"/old", "/c"})
		f.valid["/c"] = true
		if got, ok := f.mgr.Active(); !ok || got != "/c" {
			t.Errorf("Active() = %q, %v, want /c", got, ok)
		}
	})
}

func TestSelect(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	restarter := &fakeRestarter{}
	f.mgr.opts.Restarter = restarter

	err := f.mgr.Select(context.Background(), "/not/there")
	if !errors.Is(err, ErrInvalidEnvironment) {
		t.Fatalf("Select(invalid) error = %v, want ErrInvalidEnvironment", err)
	}
	if len(restarter.calls) != 0 {
		t.Error("server restarted for an invalid selection")
	}

	f.valid["/env/bin/python"] = true
	if err := f.mgr.Select(context.Background(), "  /env/bin/python\n"); err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if got, _ := f.store.Get(ActiveKey); got != "/env/bin/python" {
		t.Errorf("stored selection = %q", got)
	}
	if !slices.Equal(restarter.calls, []string{"/env/bin/python"}) {
		t.Errorf("restart calls = %v", restarter.calls)
	}

	// Selecting starts a fresh run that supersedes the settled one.
	before := f.mgr.Snapshot().Generation
	f.valid["/env2/bin/python"] = true
	if err := f.mgr.Select(context.Background(), "/env2/bin/python"); err != nil {
		t.Fatalf("second Select() error: %v", err)
	}
	if got := f.mgr.Snapshot().Generation; got <= before {
		t.Errorf("Generation after Select = %d, want more than %d", got, before)
	}
	if got := promtest.ToFloat64(f.mgr.Metrics().Runs); got != 2 {
		t.Errorf("discovery_runs_total = %v, want 2", got)
	}
	if snap := discover(t, f.mgr); !snap.Settled || snap.Generation <= before {
		t.Errorf("snapshot after Select = %+v", snap)
	}

	f.store.err = errors.New("disk full")
	if err := f.mgr.Select(context.Background(), "/env/bin/python"); err == nil {
		t.Error("Select() ignored a store failure")
	}
}

func TestStale(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeLocator{kind: locator.KindPath})
	if !f.mgr.Stale(time.Minute) {
		t.Error("Stale() = false before any run")
	}
	discover(t, f.mgr)
	if f.mgr.Stale(time.Minute) {
		t.Error("Stale() = true right after a run")
	}
	f.clock.Advance(2 * time.Minute)
	if !f.mgr.Stale(time.Minute) {
		t.Error("Stale() = false after the window passed")
	}
}

func TestPanickingLocatorSettles(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		&fakeLocator{kind: locator.KindPath, panics: true},
		&fakeLocator{kind: locator.KindHome, paths: []string{"/h"}},
	)
	snap := discover(t, f.mgr)
	if !slices.Equal(snap.Paths, []string{"/h"}) {
		t.Errorf("Paths = %v, want [/h]", snap.Paths)
	}
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeLocator{kind: locator.KindPath, paths: []string{"/p"}})
	ch, cancel := f.mgr.Subscribe()
	defer cancel()

	first := <-ch
	if first.Settled {
		t.Error("initial snapshot is settled before any run")
	}
	discover(t, f.mgr)

	deadline := time.After(waitTimeout)
	for {
		select {
		case snap := <-ch:
			if snap.Settled {
				if !slices.Equal(snap.Paths, []string{"/p"}) {
					t.Errorf("settled snapshot Paths = %v", snap.Paths)
				}
				return
			}
		case <-deadline:
			t.Fatal("no settled snapshot delivered")
		}
	}
}

func TestWatchCallbacks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeLocator{kind: locator.KindPath, paths: []string{"/keep"}})
	discover(t, f.mgr)
	cb := f.mgr.WatchCallbacks()

	f.valid["/fresh"] = true
	cb.OnCreated("/fresh")
	cached, _ := f.cache.Load()
	if !slices.Contains(cached, "/fresh") {
		t.Errorf("created path not cached: %v", cached)
	}

	cb.OnDeleted("/keep")
	eventually(t, "run after delete", func() bool { return f.mgr.Snapshot().Settled })
	cb.OnRegistryChanged()
	discover(t, f.mgr)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ch, _ := f.mgr.Subscribe()
	<-ch
	f.mgr.Close()
	if _, open := <-ch; open {
		t.Error("subscription still open after Close()")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := f.mgr.Discover(ctx); err == nil {
		t.Error("Discover() after Close() returned no error")
	}
}
