package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/onephotolife/tagserve/pkg/config"
)

func newTestDelegate(t *testing.T, url string) *Delegate {
	t.Helper()
	cfg := config.Default().Search
	cfg.Backend = config.BackendDelegate
	cfg.DelegateURL = url
	d, err := NewDelegate(cfg)
	if err != nil {
		t.Fatalf("NewDelegate: %v", err)
	}
	return d
}

func TestDelegateRequiresURL(t *testing.T) {
	cfg := config.Default().Search
	cfg.Backend = config.BackendDelegate
	cfg.DelegateURL = ""
	if _, err := NewDelegate(cfg); err == nil {
		t.Fatal("expected error for missing delegate_url")
	}
}

func TestDelegateSuggest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/suggest" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "yam" {
			t.Errorf("query = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q", got)
		}
		json.NewEncoder(w).Encode(delegateSuggestResponse{Items: []Hit{
			{Key: "yama", Display: "yama", Count: 5},
			{Key: "yamada", Display: "Yamada", Count: 2},
		}})
	}))
	defer srv.Close()

	d := newTestDelegate(t, srv.URL)
	hits, err := d.Suggest(context.Background(), "yam", 5)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(hits) != 2 || hits[0].Key != "yama" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestDelegateRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(delegateSuggestResponse{Items: []Hit{{Key: "go"}}})
	}))
	defer srv.Close()

	d := newTestDelegate(t, srv.URL)
	hits, err := d.Suggest(context.Background(), "go", 5)
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestDelegateFailsAfterRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newTestDelegate(t, srv.URL)
	_, err := d.Suggest(context.Background(), "go", 5)
	if !errors.Is(err, ErrSearchFailed) {
		t.Fatalf("err = %v, want ErrSearchFailed", err)
	}
}

func TestDelegateNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	d := newTestDelegate(t, srv.URL)
	_, err := d.Suggest(context.Background(), "go", 5)
	if !errors.Is(err, ErrSearchFailed) {
		t.Fatalf("err = %v, want ErrSearchFailed", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not retry, calls = %d", calls.Load())
	}
}

func TestDelegateSearchPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q", got)
		}
		json.NewEncoder(w).Encode(delegateSearchResponse{
			Items: []Item{{Key: "golang", Display: "golang", Count: 7, Score: 2.5}},
			Page:  2,
			Limit: 1,
			Total: 3,
		})
	}))
	defer srv.Close()

	d := newTestDelegate(t, srv.URL)
	page, err := d.Search(context.Background(), "go", 2, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if page.Total != 3 || page.Page != 2 || len(page.Items) != 1 {
		t.Fatalf("page = %+v", page)
	}
}

func TestDelegateEmptyQuery(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	d := newTestDelegate(t, srv.URL)
	hits, err := d.Suggest(context.Background(), "", 5)
	if err != nil || len(hits) != 0 {
		t.Fatalf("empty query: hits=%v err=%v", hits, err)
	}
	if calls.Load() != 0 {
		t.Fatal("empty query must not hit the delegate")
	}
}
