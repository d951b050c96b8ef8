package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onephotolife/tagserve/pkg/config"
)

// Delegate forwards suggest/search to a managed search service and adapts
// its JSON shape onto the Backend contract. One bounded retry per call;
// after that the error propagates as ErrSearchFailed.
type Delegate struct {
	base   *url.URL
	client *http.Client
}

func NewDelegate(cfg config.SearchConfig) (*Delegate, error) {
	if cfg.DelegateURL == "" {
		return nil, fmt.Errorf("search: delegate backend requires delegate_url")
	}
	base, err := url.Parse(cfg.DelegateURL)
	if err != nil {
		return nil, fmt.Errorf("search: bad delegate_url: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Delegate{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type delegateSuggestResponse struct {
	Items []Hit `json:"items"`
}

type delegateSearchResponse struct {
	Items []Item `json:"items"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Total int    `json:"total"`
}

func (d *Delegate) Suggest(ctx context.Context, prefix string, limit int) ([]Hit, error) {
	if prefix == "" {
		return []Hit{}, nil
	}
	limit = ClampLimit(limit)

	q := url.Values{}
	q.Set("query", prefix)
	q.Set("limit", strconv.Itoa(limit))

	var resp delegateSuggestResponse
	if err := d.getJSON(ctx, "suggest", q, &resp); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		resp.Items = []Hit{}
	}
	if len(resp.Items) > limit {
		resp.Items = resp.Items[:limit]
	}
	return resp.Items, nil
}

func (d *Delegate) Search(ctx context.Context, query string, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	pageSize = ClampLimit(pageSize)
	if query == "" {
		return Page{Items: []Item{}, Page: page, PageSize: pageSize}, nil
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(pageSize))

	var resp delegateSearchResponse
	if err := d.getJSON(ctx, "search", q, &resp); err != nil {
		return Page{}, err
	}
	if resp.Items == nil {
		resp.Items = []Item{}
	}
	return Page{Items: resp.Items, Page: page, PageSize: pageSize, Total: resp.Total}, nil
}

// getJSON performs the GET with one retry on transport or 5xx failure.
func (d *Delegate) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := *d.base
	u.Path, _ = url.JoinPath(u.Path, path)
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSearchFailed, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			log.Warnf("delegate %s attempt %d: %v", path, attempt+1, err)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			log.Warnf("delegate %s attempt %d: %v", path, attempt+1, lastErr)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("%w: status %d", ErrSearchFailed, resp.StatusCode)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%w: decode: %v", ErrSearchFailed, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrSearchFailed, lastErr)
}
