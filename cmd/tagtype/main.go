// Tagtype is an interactive client for the tag suggestion flow. It runs
// the same controller an editor integration would: debounced input, a
// bounded result cache and last-request-wins fetches, against either
// the local tag store or a remote delegate service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onephotolife/tagserve/internal/cli"
	"github.com/onephotolife/tagserve/pkg/config"
	"github.com/onephotolife/tagserve/pkg/controller"
	"github.com/onephotolife/tagserve/pkg/index"
	"github.com/onephotolife/tagserve/pkg/search"
)

func sigHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		fmt.Fprintf(os.Stderr, "\nExiting...\n")
		os.Exit(0)
	}()
}

// backendFetcher adapts a search backend to the controller's Fetcher.
type backendFetcher struct {
	backend search.Backend
}

func (f backendFetcher) Fetch(ctx context.Context, query string, limit int) ([]controller.Item, error) {
	hits, err := f.backend.Suggest(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	items := make([]controller.Item, len(hits))
	for i, h := range hits {
		items[i] = controller.Item{Key: h.Key, Display: h.Display, Count: h.Count}
	}
	return items, nil
}

func main() {
	sigHandler()
	configPath := flag.String("config", "tagserve.toml", "Path to the TOML config file")
	debugMode := flag.Bool("d", false, "Toggle debug mode")
	delegateURL := flag.String("delegate", "", "Fetch from a remote delegate service instead of the local store")
	limit := flag.Int("limit", 0, "Number of suggestions to return (default from config)")

	flag.Parse()

	if *debugMode {
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(false)
	} else {
		log.SetLevel(log.ErrorLevel)
	}

	cfg := config.Load(*configPath)
	if *delegateURL != "" {
		cfg.Search.Backend = config.BackendDelegate
		cfg.Search.DelegateURL = *delegateURL
	}

	var backend search.Backend
	if cfg.Search.Backend == config.BackendDelegate {
		d, err := search.NewDelegate(cfg.Search)
		if err != nil {
			log.Fatalf("delegate init: %v", err)
		}
		backend = d
	} else {
		store, err := index.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("open tag store: %v", err)
		}
		defer store.Close()

		backend, err = search.New(context.Background(), cfg.Search, store)
		if err != nil {
			log.Fatalf("search init: %v", err)
		}
	}

	maxSuggestions := cfg.Client.MaxSuggestions
	if *limit > 0 {
		maxSuggestions = *limit
	}
	opts := controller.Options{
		Debounce:       time.Duration(cfg.Client.DebounceMs) * time.Millisecond,
		CacheSize:      cfg.Client.CacheSize,
		MinQueryLen:    cfg.Client.MinQueryLen,
		MaxSuggestions: maxSuggestions,
	}

	handler := cli.NewInputHandler(backendFetcher{backend: backend}, opts)
	if err := handler.Start(); err != nil {
		log.Fatalf("CLI error: %v", err)
	}
}
