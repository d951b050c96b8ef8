// Package controller implements the client-side suggestion flow as an
// explicit state machine: debounced input, IME composition guarding,
// a bounded result cache, and last-request-wins fetch sequencing.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onephotolife/tagserve/pkg/search"
)

// Item is a single suggestion row shown to the user.
type Item = search.Item

// Fetcher produces suggestions for a query. Implementations are the
// embedded backend, the HTTP client, or a test double.
type Fetcher interface {
	Fetch(ctx context.Context, query string, limit int) ([]Item, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, query string, limit int) ([]Item, error)

func (f FetcherFunc) Fetch(ctx context.Context, query string, limit int) ([]Item, error) {
	return f(ctx, query, limit)
}

// Scheduler defers a function by a delay and returns a cancel handle.
// The default implementation wraps time.AfterFunc; tests substitute a
// manual one to drive the debounce deterministically.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

type timerScheduler struct{}

func (timerScheduler) Schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Listener observes state transitions. It is called after the
// controller's lock is released, so it may call back into the
// controller.
type Listener func(state State, items []Item)

// Options configures a Controller. Zero values fall back to the
// defaults below.
type Options struct {
	Debounce       time.Duration // wait after the last keystroke, default 120ms
	CacheSize      int           // LRU entries, default 100
	MinQueryLen    int           // runes required before fetching, default 1
	MaxSuggestions int           // limit passed to the fetcher, default 10

	Scheduler Scheduler
	Listener  Listener
	Logger    *log.Logger
}

const (
	defaultDebounce       = 120 * time.Millisecond
	defaultCacheSize      = 100
	defaultMinQueryLen    = 1
	defaultMaxSuggestions = 10
)

// Controller drives the suggestion lifecycle for one input field.
// All methods are safe for concurrent use.
type Controller struct {
	fetcher Fetcher
	sched   Scheduler
	listen  Listener
	logger  *log.Logger

	debounce       time.Duration
	minQueryLen    int
	maxSuggestions int

	mu            sync.Mutex
	state         State
	query         string
	items         []Item
	highlight     int
	composing     bool
	cancelPending func()
	seq           uint64
	cache         *lruCache
}

// New builds a Controller around fetcher.
func New(fetcher Fetcher, opts Options) *Controller {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.MinQueryLen <= 0 {
		opts.MinQueryLen = defaultMinQueryLen
	}
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = defaultMaxSuggestions
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timerScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Controller{
		fetcher:        fetcher,
		sched:          opts.Scheduler,
		listen:         opts.Listener,
		logger:         opts.Logger,
		debounce:       opts.Debounce,
		minQueryLen:    opts.MinQueryLen,
		maxSuggestions: opts.MaxSuggestions,
		state:          StateIdle,
		highlight:      -1,
		cache:          newLRUCache(opts.CacheSize),
	}
}

// Input records the current text of the field. Consecutive calls within
// the debounce interval collapse into a single fetch for the latest
// text. During IME composition the text is tracked but nothing fires.
func (c *Controller) Input(text string) {
	c.mu.Lock()
	c.query = text
	if c.composing {
		c.mu.Unlock()
		return
	}
	c.scheduleLocked(text)
	st, items := c.state, c.items
	c.mu.Unlock()
	c.notify(st, items)
}

// CompositionStart marks the beginning of an IME composition session.
// Any pending debounce is cancelled.
func (c *Controller) CompositionStart() {
	c.mu.Lock()
	c.composing = true
	c.stopPendingLocked()
	c.state = StateComposing
	st, items := c.state, c.items
	c.mu.Unlock()
	c.notify(st, items)
}

// CompositionEnd closes the composition session with the committed text
// and resumes normal debounced fetching.
func (c *Controller) CompositionEnd(text string) {
	c.mu.Lock()
	c.composing = false
	c.query = text
	c.scheduleLocked(text)
	st, items := c.state, c.items
	c.mu.Unlock()
	c.notify(st, items)
}

// Submit commits the highlighted suggestion. It returns false when a
// composition session is open, when nothing is highlighted, or when no
// list is showing; the caller then submits the raw text instead.
func (c *Controller) Submit() (Item, bool) {
	c.mu.Lock()
	if c.composing || c.state != StateDisplaying || c.highlight < 0 || c.highlight >= len(c.items) {
		c.mu.Unlock()
		return Item{}, false
	}
	picked := c.items[c.highlight]
	c.resetLocked()
	st, items := c.state, c.items
	c.mu.Unlock()
	c.notify(st, items)
	return picked, true
}

// Navigate handles a keyboard event against the visible list. Enter
// behaves like Submit; the selected item, if any, is returned.
func (c *Controller) Navigate(k Key) (Item, bool) {
	switch k {
	case KeyEnter:
		return c.Submit()
	case KeyEscape:
		c.Dismiss()
		return Item{}, false
	}

	c.mu.Lock()
	if c.state != StateDisplaying || len(c.items) == 0 {
		c.mu.Unlock()
		return Item{}, false
	}
	switch k {
	case KeyDown:
		if c.highlight < len(c.items)-1 {
			c.highlight++
		}
	case KeyUp:
		if c.highlight > -1 {
			c.highlight--
		}
	}
	c.mu.Unlock()
	return Item{}, false
}

// Dismiss hides the list and returns to idle without committing.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	c.resetLocked()
	st, items := c.state, c.items
	c.mu.Unlock()
	c.notify(st, items)
}

// State reports the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Items returns the currently displayed suggestions.
func (c *Controller) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Highlight reports the highlighted row, -1 when none.
func (c *Controller) Highlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highlight
}

// Query returns the latest text the controller has seen.
func (c *Controller) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// scheduleLocked arms (or re-arms) the debounce timer for text, or
// clears everything when the text is too short to query.
func (c *Controller) scheduleLocked(text string) {
	c.stopPendingLocked()
	if len([]rune(text)) < c.minQueryLen {
		c.resetLocked()
		return
	}
	c.state = StateDebouncing
	c.cancelPending = c.sched.Schedule(c.debounce, func() { c.fire(text) })
}

// fire runs when the debounce elapses. It serves from cache when
// possible, otherwise issues a fetch tagged with a sequence number so
// that only the newest in-flight request may publish results.
func (c *Controller) fire(text string) {
	c.mu.Lock()
	if c.composing || c.query != text {
		c.mu.Unlock()
		return
	}
	c.cancelPending = nil

	if items, ok := c.cache.get(text); ok {
		// Publishing from cache supersedes any fetch still in flight;
		// its response must not overwrite these results.
		c.seq++
		c.items = items
		c.highlight = -1
		c.state = StateDisplaying
		st := c.state
		c.mu.Unlock()
		c.notify(st, items)
		return
	}

	c.seq++
	mySeq := c.seq
	c.state = StateFetching
	c.mu.Unlock()
	c.notify(StateFetching, nil)

	items, err := c.fetcher.Fetch(context.Background(), text, c.maxSuggestions)

	c.mu.Lock()
	if mySeq != c.seq {
		// A newer request was issued while this one was in flight.
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Debug("suggestion fetch failed", "query", text, "err", err)
		c.items = nil
		c.highlight = -1
		c.state = StateError
		st := c.state
		c.mu.Unlock()
		c.notify(st, nil)
		return
	}
	c.cache.put(text, items)
	c.items = items
	c.highlight = -1
	c.state = StateDisplaying
	st := c.state
	c.mu.Unlock()
	c.notify(st, items)
}

func (c *Controller) stopPendingLocked() {
	if c.cancelPending != nil {
		c.cancelPending()
		c.cancelPending = nil
	}
}

func (c *Controller) resetLocked() {
	c.stopPendingLocked()
	// An in-flight fetch must not resurrect a list the user dismissed.
	c.seq++
	c.items = nil
	c.highlight = -1
	c.state = StateIdle
}

func (c *Controller) notify(st State, items []Item) {
	if c.listen != nil {
		c.listen(st, items)
	}
}
