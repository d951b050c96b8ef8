/*
Package search serves ranked tag suggestions and paginated tag search over
one Backend contract with two interchangeable engines.

The embedded engine keeps a patricia trie plus an n-gram posting map in
process memory and scans them directly. The delegate engine forwards both
operations to a managed search service over HTTP and adapts its response
shape. Callers never branch on the engine: New resolves the configured
implementation exactly once at startup.
*/
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/onephotolife/tagserve/pkg/config"
	"github.com/onephotolife/tagserve/pkg/index"
)

// ErrSearchFailed reports that the active backend could not serve the
// request. Callers may retry once at most; the delegate already performs
// its own single bounded retry.
var ErrSearchFailed = errors.New("search: backend unavailable")

const (
	// MinLimit and MaxLimit bound the per-request result count; values
	// outside the range are clamped server-side, not rejected.
	MinLimit = 1
	MaxLimit = 50
)

// Hit is one suggestion row, ordered by count desc then key asc.
type Hit struct {
	Key     string `json:"key"`
	Display string `json:"display"`
	Count   int64  `json:"count"`
}

// Item is one scored search result.
type Item struct {
	Key     string  `json:"key"`
	Display string  `json:"display"`
	Count   int64   `json:"count"`
	Score   float64 `json:"score"`
}

// Page is a search result window. Total counts every match, not just the
// returned slice.
type Page struct {
	Items    []Item `json:"items"`
	Page     int    `json:"page"`
	PageSize int    `json:"limit"`
	Total    int    `json:"total"`
}

// Backend is the capability both engines implement. Inputs are already
// normalized by the caller; an empty input yields an empty success result.
type Backend interface {
	Suggest(ctx context.Context, normalizedPrefix string, limit int) ([]Hit, error)
	Search(ctx context.Context, normalizedQuery string, page, pageSize int) (Page, error)
}

// ClampLimit snaps n into [MinLimit, MaxLimit].
func ClampLimit(n int) int {
	if n < MinLimit {
		return MinLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// New resolves the configured backend. The embedded engine warms itself
// from the store and registers for incremental tag updates.
func New(ctx context.Context, cfg config.SearchConfig, store *index.SQLiteStore) (Backend, error) {
	switch cfg.Backend {
	case "", config.BackendEmbedded:
		emb, err := NewEmbedded(ctx, store, cfg)
		if err != nil {
			return nil, err
		}
		store.SetNotifier(emb)
		return emb, nil
	case config.BackendDelegate:
		return NewDelegate(cfg)
	default:
		return nil, fmt.Errorf("search: unknown backend %q", cfg.Backend)
	}
}
