package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/onephotolife/tagserve/pkg/config"
	"github.com/onephotolife/tagserve/pkg/index"
	"github.com/onephotolife/tagserve/pkg/normalize"
)

// entrySource is the slice of the store the embedded engine warms from.
type entrySource interface {
	Tags(ctx context.Context) ([]index.Tag, error)
}

type entry struct {
	display string
	count   int64
}

// Embedded scans an in-process index: a patricia trie keyed by normalized
// tag key for prefix matches, and an n-gram posting map for substring
// candidates. It implements index.Notifier so store writes keep it fresh.
type Embedded struct {
	mu      sync.RWMutex
	trie    *patricia.Trie
	entries map[string]*entry
	grams   map[string]map[string]struct{}

	minGram int
	maxGram int
}

// NewEmbedded builds the index from every tag row in src.
func NewEmbedded(ctx context.Context, src entrySource, cfg config.SearchConfig) (*Embedded, error) {
	minGram, maxGram := cfg.MinGram, cfg.MaxGram
	if minGram < 1 {
		minGram = 2
	}
	if maxGram < minGram {
		maxGram = minGram + 1
	}

	e := &Embedded{
		trie:    patricia.NewTrie(),
		entries: make(map[string]*entry),
		grams:   make(map[string]map[string]struct{}),
		minGram: minGram,
		maxGram: maxGram,
	}

	tags, err := src.Tags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		e.insert(t)
	}
	log.Debugf("embedded index warmed with %d tags", len(tags))
	return e, nil
}

// Seed inserts tags directly, bypassing the store. Used by the snapshot
// loader and tests.
func (e *Embedded) Seed(tags []index.Tag) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range tags {
		e.insert(t)
	}
}

// TagUsed implements index.Notifier.
func (e *Embedded) TagUsed(t index.Tag) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insert(t)
}

// TagReleased implements index.Notifier. Rows are never removed, only
// their counters move; a zero count simply ranks last.
func (e *Embedded) TagReleased(t index.Tag) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.entries[t.Key]; ok {
		ent.count = t.CountTotal
	}
}

// insert assumes e.mu is held (or exclusive setup access).
func (e *Embedded) insert(t index.Tag) {
	if ent, ok := e.entries[t.Key]; ok {
		ent.count = t.CountTotal
		if ent.display == "" {
			ent.display = t.Display
		}
		return
	}
	ent := &entry{display: t.Display, count: t.CountTotal}
	e.entries[t.Key] = ent
	e.trie.Insert(patricia.Prefix(t.Key), ent)
	for _, g := range normalize.Ngrams(t.Key, e.minGram, e.maxGram) {
		keys, ok := e.grams[g]
		if !ok {
			keys = make(map[string]struct{})
			e.grams[g] = keys
		}
		keys[t.Key] = struct{}{}
	}
}

// Suggest returns tags whose key starts with the prefix, count desc with
// key asc ties, clamped to [MinLimit, MaxLimit].
func (e *Embedded) Suggest(_ context.Context, prefix string, limit int) ([]Hit, error) {
	if prefix == "" {
		return []Hit{}, nil
	}
	limit = ClampLimit(limit)

	e.mu.RLock()
	var hits []Hit
	err := e.trie.VisitSubtree(patricia.Prefix(prefix), func(p patricia.Prefix, item patricia.Item) error {
		ent := item.(*entry)
		hits = append(hits, Hit{Key: string(p), Display: ent.display, Count: ent.count})
		return nil
	})
	e.mu.RUnlock()
	if err != nil {
		log.Errorf("trie subtree visit: %v", err)
		return nil, ErrSearchFailed
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Count != hits[j].Count {
			return hits[i].Count > hits[j].Count
		}
		return hits[i].Key < hits[j].Key
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []Hit{}
	}
	return hits, nil
}

// Match strength tiers. The popularity term is log-scaled so a very hot
// tag cannot bury an exact textual match.
const (
	strengthExact     = 3.0
	strengthPrefix    = 2.0
	strengthSubstring = 1.0
)

func scoreFor(key, query string, count int64) float64 {
	strength := strengthSubstring
	switch {
	case key == query:
		strength = strengthExact
	case strings.HasPrefix(key, query):
		strength = strengthPrefix
	}
	return strength * (1.0 + math.Log1p(float64(count)))
}

// Search scores every key containing the query and returns the requested
// page. Ordering is score desc then key asc, deterministic for identical
// inputs.
func (e *Embedded) Search(_ context.Context, query string, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	pageSize = ClampLimit(pageSize)
	if query == "" {
		return Page{Items: []Item{}, Page: page, PageSize: pageSize, Total: 0}, nil
	}

	e.mu.RLock()
	candidates := e.candidates(query)
	items := make([]Item, 0, len(candidates))
	for key := range candidates {
		if !strings.Contains(key, query) {
			continue
		}
		ent := e.entries[key]
		items = append(items, Item{
			Key:     key,
			Display: ent.display,
			Count:   ent.count,
			Score:   scoreFor(key, query, ent.count),
		})
	}
	e.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Key < items[j].Key
	})

	total := len(items)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return Page{Items: items[start:end], Page: page, PageSize: pageSize, Total: total}, nil
}

// candidates narrows the key set via the posting map when the query is
// long enough to carry a gram; shorter queries scan everything. Assumes
// e.mu is held for reading.
func (e *Embedded) candidates(query string) map[string]struct{} {
	grams := normalize.Ngrams(query, e.minGram, e.minGram)
	if len(grams) == 0 {
		all := make(map[string]struct{}, len(e.entries))
		for key := range e.entries {
			all[key] = struct{}{}
		}
		return all
	}

	out := make(map[string]struct{})
	for _, g := range grams {
		for key := range e.grams[g] {
			out[key] = struct{}{}
		}
	}
	return out
}
