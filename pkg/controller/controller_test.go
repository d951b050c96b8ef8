package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// manualScheduler collects scheduled callbacks so tests decide exactly
// when the debounce elapses.
type manualScheduler struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	fn        func()
	cancelled bool
}

func (s *manualScheduler) Schedule(_ time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{fn: fn}
	s.pending = append(s.pending, t)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.cancelled = true
	}
}

// fireAll runs every armed timer that has not been cancelled.
func (s *manualScheduler) fireAll() {
	s.mu.Lock()
	timers := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, t := range timers {
		if !t.cancelled {
			t.fn()
		}
	}
}

// countingFetcher records every query it serves.
type countingFetcher struct {
	mu      sync.Mutex
	queries []string
}

func (f *countingFetcher) Fetch(_ context.Context, query string, _ int) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return []Item{{Key: query, Display: query, Count: 1}}, nil
}

func (f *countingFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	copy(out, f.queries)
	return out
}

func newTestController(f Fetcher, sched Scheduler) *Controller {
	return New(f, Options{Scheduler: sched, CacheSize: 100})
}

func TestDebounceMergesKeystrokes(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &countingFetcher{}
	c := newTestController(fetcher, sched)

	c.Input("や")
	c.Input("やま")
	sched.fireAll()

	got := fetcher.calls()
	if len(got) != 1 || got[0] != "やま" {
		t.Fatalf("expected single fetch for %q, got %v", "やま", got)
	}
	if c.State() != StateDisplaying {
		t.Fatalf("expected displaying, got %v", c.State())
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	sched := &manualScheduler{}

	// gate lets the test hold query "a" in flight while "ab" completes.
	gate := make(chan struct{})
	done := make(chan struct{})
	fetcher := FetcherFunc(func(_ context.Context, query string, _ int) ([]Item, error) {
		if query == "a" {
			<-gate
		}
		return []Item{{Key: query, Display: query, Count: 1}}, nil
	})
	c := newTestController(fetcher, sched)

	c.Input("a")
	go func() {
		sched.fireAll() // blocks inside Fetch("a") until gate opens
		close(done)
	}()

	// Wait for "a" to reach the fetching phase before typing more.
	waitForState(t, c, StateFetching)

	c.Input("ab")
	sched.fireAll()
	if c.State() != StateDisplaying {
		t.Fatalf("expected displaying after ab, got %v", c.State())
	}

	close(gate)
	<-done

	items := c.Items()
	if len(items) != 1 || items[0].Key != "ab" {
		t.Fatalf("stale result overwrote newer one: %+v", items)
	}
}

func TestCacheHitSupersedesInFlightFetch(t *testing.T) {
	sched := &manualScheduler{}

	gate := make(chan struct{})
	done := make(chan struct{})
	fetcher := FetcherFunc(func(_ context.Context, query string, _ int) ([]Item, error) {
		if query == "a" {
			<-gate
		}
		return []Item{{Key: query, Display: query, Count: 1}}, nil
	})
	c := newTestController(fetcher, sched)

	// Warm the cache for "ab".
	c.Input("ab")
	sched.fireAll()
	c.Dismiss()

	c.Input("a")
	go func() {
		sched.fireAll() // blocks inside Fetch("a")
		close(done)
	}()
	waitForState(t, c, StateFetching)

	// "ab" now resolves straight from cache while "a" is still in flight.
	c.Input("ab")
	sched.fireAll()
	if c.State() != StateDisplaying {
		t.Fatalf("expected cache-served display, got %v", c.State())
	}

	close(gate)
	<-done

	items := c.Items()
	if len(items) != 1 || items[0].Key != "ab" {
		t.Fatalf("in-flight fetch overwrote cache-served results: %+v", items)
	}
	if c.State() != StateDisplaying {
		t.Fatalf("state = %v after stale response", c.State())
	}
}

func TestDismissDropsInFlightFetch(t *testing.T) {
	sched := &manualScheduler{}

	gate := make(chan struct{})
	done := make(chan struct{})
	fetcher := FetcherFunc(func(_ context.Context, query string, _ int) ([]Item, error) {
		<-gate
		return []Item{{Key: query, Display: query, Count: 1}}, nil
	})
	c := newTestController(fetcher, sched)

	c.Input("a")
	go func() {
		sched.fireAll()
		close(done)
	}()
	waitForState(t, c, StateFetching)

	c.Dismiss()
	if c.State() != StateIdle {
		t.Fatalf("expected idle after dismiss, got %v", c.State())
	}

	close(gate)
	<-done

	if c.State() != StateIdle {
		t.Fatalf("late response re-opened the list: state=%v items=%+v", c.State(), c.Items())
	}
	if items := c.Items(); len(items) != 0 {
		t.Fatalf("items after dismiss = %+v", items)
	}
}

func TestCacheHitSkipsFetch(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &countingFetcher{}
	c := newTestController(fetcher, sched)

	c.Input("go")
	sched.fireAll()
	c.Dismiss()
	c.Input("go")
	sched.fireAll()

	if got := fetcher.calls(); len(got) != 1 {
		t.Fatalf("expected cache hit on repeat query, fetches: %v", got)
	}
	if c.State() != StateDisplaying {
		t.Fatalf("expected displaying from cache, got %v", c.State())
	}
}

func TestCacheEvictsLeastRecent(t *testing.T) {
	cache := newLRUCache(2)
	cache.put("x", []Item{{Key: "x"}})
	cache.put("y", []Item{{Key: "y"}})
	if _, ok := cache.get("x"); !ok { // promotes x over y
		t.Fatal("x missing before eviction")
	}
	cache.put("z", []Item{{Key: "z"}})

	if _, ok := cache.get("y"); ok {
		t.Fatal("y should have been evicted as least recent")
	}
	if _, ok := cache.get("x"); !ok {
		t.Fatal("x should have survived after promotion")
	}
	if _, ok := cache.get("z"); !ok {
		t.Fatal("z should be present")
	}
	if cache.len() != 2 {
		t.Fatalf("cache len = %d, want 2", cache.len())
	}

	// Without promotion the oldest insert goes first.
	plain := newLRUCache(2)
	plain.put("x", nil)
	plain.put("y", nil)
	plain.put("z", nil)
	if _, ok := plain.get("x"); ok {
		t.Fatal("x should be evicted after z arrives")
	}
	for _, q := range []string{"y", "z"} {
		if _, ok := plain.get(q); !ok {
			t.Fatalf("%s missing", q)
		}
	}
}

func TestCompositionSuppressesFetchAndSubmit(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &countingFetcher{}
	c := newTestController(fetcher, sched)

	c.CompositionStart()
	c.Input("にほ")
	c.Input("日本")
	sched.fireAll()

	if got := fetcher.calls(); len(got) != 0 {
		t.Fatalf("composition input must not fetch, got %v", got)
	}
	if _, ok := c.Submit(); ok {
		t.Fatal("submit during composition must be suppressed")
	}

	c.CompositionEnd("日本")
	sched.fireAll()
	if got := fetcher.calls(); len(got) != 1 || got[0] != "日本" {
		t.Fatalf("expected one fetch for committed text, got %v", got)
	}
}

func TestNavigationClampsHighlight(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := FetcherFunc(func(_ context.Context, query string, _ int) ([]Item, error) {
		return []Item{
			{Key: "tokyo", Display: "Tokyo"},
			{Key: "tokusatsu", Display: "tokusatsu"},
		}, nil
	})
	c := newTestController(fetcher, sched)

	c.Input("tok")
	sched.fireAll()

	if h := c.Highlight(); h != -1 {
		t.Fatalf("initial highlight = %d, want -1", h)
	}
	c.Navigate(KeyUp)
	if h := c.Highlight(); h != -1 {
		t.Fatalf("up from -1 moved to %d", h)
	}
	c.Navigate(KeyDown)
	c.Navigate(KeyDown)
	c.Navigate(KeyDown) // past the end, must clamp
	if h := c.Highlight(); h != 1 {
		t.Fatalf("highlight = %d, want clamp at 1", h)
	}

	item, ok := c.Navigate(KeyEnter)
	if !ok || item.Key != "tokusatsu" {
		t.Fatalf("enter returned (%+v, %v)", item, ok)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle after commit, got %v", c.State())
	}
}

func TestEscapeDismisses(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &countingFetcher{}
	c := newTestController(fetcher, sched)

	c.Input("go")
	sched.fireAll()
	c.Navigate(KeyEscape)

	if c.State() != StateIdle {
		t.Fatalf("expected idle after escape, got %v", c.State())
	}
	if items := c.Items(); len(items) != 0 {
		t.Fatalf("items not cleared: %+v", items)
	}
}

func TestFetchErrorEntersErrorStateAndRecovers(t *testing.T) {
	sched := &manualScheduler{}
	var fail bool
	fetcher := FetcherFunc(func(_ context.Context, query string, _ int) ([]Item, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return []Item{{Key: query}}, nil
	})
	c := newTestController(fetcher, sched)

	fail = true
	c.Input("go")
	sched.fireAll()
	if c.State() != StateError {
		t.Fatalf("expected error state, got %v", c.State())
	}
	if items := c.Items(); len(items) != 0 {
		t.Fatalf("error state must clear items, got %+v", items)
	}

	// No retry happens on its own; fresh input recovers.
	fail = false
	c.Input("gol")
	sched.fireAll()
	if c.State() != StateDisplaying {
		t.Fatalf("expected recovery on new input, got %v", c.State())
	}
}

func TestEmptyInputReturnsToIdle(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &countingFetcher{}
	c := newTestController(fetcher, sched)

	c.Input("go")
	sched.fireAll()
	c.Input("")
	sched.fireAll()

	if c.State() != StateIdle {
		t.Fatalf("expected idle on cleared input, got %v", c.State())
	}
	if got := fetcher.calls(); len(got) != 1 {
		t.Fatalf("empty input must not fetch, got %v", got)
	}
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v (now %v)", want, c.State())
}

func TestListenerObservesTransitions(t *testing.T) {
	sched := &manualScheduler{}
	fetcher := &countingFetcher{}

	var mu sync.Mutex
	var seen []string
	c := New(fetcher, Options{
		Scheduler: sched,
		Listener: func(st State, _ []Item) {
			mu.Lock()
			seen = append(seen, fmt.Sprint(st))
			mu.Unlock()
		},
	})

	c.Input("go")
	sched.fireAll()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"debouncing", "fetching", "displaying"}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %q, want %q", i, seen[i], want[i])
		}
	}
}
