// Package trending ranks recent tag usage over a sliding day window.
package trending

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onephotolife/tagserve/pkg/index"
)

// ErrUnavailable reports that the aggregation source could not be reached.
// Callers degrade to an empty list plus this explicit failure, never to
// silently stale data.
var ErrUnavailable = errors.New("trending: aggregation source unavailable")

// Source supplies windowed usage counts. *index.SQLiteStore satisfies it.
type Source interface {
	TagCountsSince(ctx context.Context, since time.Time) ([]index.TagCount, error)
}

// DecaySource additionally buckets counts by day, which is what half-life
// weighting needs. *index.SQLiteStore satisfies it too.
type DecaySource interface {
	TagCountsDaily(ctx context.Context, since time.Time) ([]index.TagDayCount, error)
}

// Options tune the aggregator. Zero values mean: no memo cache, no decay.
type Options struct {
	// CacheTTL keeps a (windowDays, limit) result off the request path for
	// this long. Slight staleness is acceptable for trending.
	CacheTTL time.Duration
	// HalfLifeDays halves a day bucket's weight for every HalfLifeDays of
	// age, so a burst of old usage ranks below steady fresh usage. 0
	// disables decay; it also requires the Source to implement DecaySource.
	HalfLifeDays int
	// Clock is injectable for tests.
	Clock func() time.Time
}

type cacheEntry struct {
	counts []index.TagCount
	at     time.Time
}

// Aggregator computes ranked tag usage over [now - windowDays, now].
type Aggregator struct {
	src  Source
	opts Options

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	days  int
	limit int
}

func New(src Source, opts Options) *Aggregator {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Aggregator{
		src:   src,
		opts:  opts,
		cache: make(map[cacheKey]cacheEntry),
	}
}

// Aggregate returns at most limit tags used within the last windowDays,
// count descending, key ascending on ties. The call never mutates the tag
// store. Source failure surfaces as ErrUnavailable.
func (a *Aggregator) Aggregate(ctx context.Context, windowDays, limit int) ([]index.TagCount, error) {
	if windowDays < 1 {
		windowDays = 1
	}
	if limit < 1 {
		limit = 1
	}

	now := a.opts.Clock()
	key := cacheKey{days: windowDays, limit: limit}

	if a.opts.CacheTTL > 0 {
		a.mu.RLock()
		ent, ok := a.cache[key]
		a.mu.RUnlock()
		if ok && now.Sub(ent.at) < a.opts.CacheTTL {
			return ent.counts, nil
		}
	}

	since := now.AddDate(0, 0, -windowDays)

	var counts []index.TagCount
	var err error
	if dsrc, ok := a.src.(DecaySource); ok && a.opts.HalfLifeDays > 0 {
		counts, err = a.decayed(ctx, dsrc, since, now)
	} else {
		counts, err = a.src.TagCountsSince(ctx, since)
	}
	if err != nil {
		log.Errorf("trending aggregation failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// The source orders count desc, key asc already; re-sort defensively
	// so the contract holds for any Source implementation.
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Key < counts[j].Key
	})
	if len(counts) > limit {
		counts = counts[:limit]
	}

	if a.opts.CacheTTL > 0 {
		a.mu.Lock()
		a.cache[key] = cacheEntry{counts: counts, at: now}
		a.mu.Unlock()
	}
	return counts, nil
}

// decayed fetches per-day buckets and weights each by
// 2^(-ageDays/halfLife), so a bucket HalfLifeDays old contributes half of
// a same-size bucket from today. Weighted sums round half up per key.
func (a *Aggregator) decayed(ctx context.Context, src DecaySource, since, now time.Time) ([]index.TagCount, error) {
	buckets, err := src.TagCountsDaily(ctx, since)
	if err != nil {
		return nil, err
	}

	today := now.UTC().Truncate(24 * time.Hour)
	weighted := make(map[string]float64, len(buckets))
	for _, b := range buckets {
		age := today.Sub(b.Day.UTC().Truncate(24*time.Hour)).Hours() / 24
		if age < 0 {
			age = 0
		}
		weighted[b.Key] += float64(b.Count) * math.Exp2(-age/float64(a.opts.HalfLifeDays))
	}

	out := make([]index.TagCount, 0, len(weighted))
	for key, w := range weighted {
		out = append(out, index.TagCount{Key: key, Count: int64(math.Round(w))})
	}
	return out, nil
}
