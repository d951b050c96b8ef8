/*
Tagserve is the hashtag suggestion and search service.

It keeps a normalized tag index in SQLite and serves ranked prefix
suggestions, substring search and trending aggregation. Serving can run
over HTTP for web clients or over a msgpack stdin/stdout stream for
editor integrations.

Start the HTTP server with defaults:

	tagserve serve

Use a custom config and enable debug logging:

	tagserve serve --config tagserve.toml --debug

Run the msgpack IPC loop instead (logs go to stderr, stdout carries the
stream):

	tagserve ipc

Inspect trending tags from the command line:

	tagserve trending --days 7 --limit 20

Import historical posts from newline-delimited JSON, one post per line:

	tagserve backfill posts.ndjson --snapshot data/tags.snap

Each backfill line looks like:

	{"id": "post_01J...", "text": "朝の一杯 #コーヒー", "tags": ["#morning"], "createdAt": "2026-08-01T09:30:00Z"}

# Configuration

Runtime settings live in a TOML file; a missing file means built-in
defaults. Deploy-time overrides come from the environment (optionally a
.env file): TAGSERVE_ADDR, TAGSERVE_DB, TAGSERVE_BACKEND,
TAGSERVE_DELEGATE_URL.

	[server]
	addr = ":8087"
	max_limit = 50

	[search]
	backend = "embedded"   # or "delegate"
	delegate_url = ""

	[ratelimit]
	suggest_window_ms = 60000
	suggest_max = 60
*/
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/onephotolife/tagserve/internal/logger"
	"github.com/onephotolife/tagserve/internal/utils"
	"github.com/onephotolife/tagserve/pkg/config"
	"github.com/onephotolife/tagserve/pkg/index"
	"github.com/onephotolife/tagserve/pkg/normalize"
	"github.com/onephotolife/tagserve/pkg/ratelimit"
	"github.com/onephotolife/tagserve/pkg/search"
	"github.com/onephotolife/tagserve/pkg/server"
	"github.com/onephotolife/tagserve/pkg/trending"
)

const version = "0.3.0"

var (
	configPath string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:     "tagserve",
	Short:   "Hashtag suggestion and search service",
	Version: version,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if debugMode {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "tagserve.toml", "Path to the TOML config file")
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd(), ipcCmd(), trendingCmd(), backfillCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

// openStore resolves the configured database path and opens it,
// creating the data directory on first run.
func openStore(cfg *config.Config) *index.SQLiteStore {
	dataDir := filepath.Dir(cfg.Store.Path)
	if status := utils.CheckDirStatus(dataDir); status.Error != nil {
		exitErr("create data dir", status.Error)
	} else if !status.Writable {
		exitErr("check data dir", fmt.Errorf("directory %s is not writable", dataDir))
	}
	store, err := index.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		exitErr("open tag store", err)
	}
	log.Debugf("tag store at %s", utils.GetAbsolutePath(cfg.Store.Path))
	return store
}

// signalContext cancels on SIGINT/SIGTERM so both transports drain
// cleanly.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Run: func(_ *cobra.Command, _ []string) {
			cfg := config.Load(configPath)
			store := openStore(cfg)
			defer store.Close()

			ctx := signalContext()
			backend, err := search.New(ctx, cfg.Search, store)
			if err != nil {
				exitErr("init search backend", err)
			}

			trends := trending.New(store, trending.Options{
				CacheTTL:     time.Duration(cfg.Trending.CacheTTLMs) * time.Millisecond,
				HalfLifeDays: cfg.Trending.HalfLifeDays,
			})
			limiter := ratelimit.New(time.Duration(cfg.RateLimit.RetentionMs) * time.Millisecond)

			srv := server.NewServer(cfg, store, backend, trends, limiter, logger.New("http"))
			if err := srv.ListenAndServe(ctx); err != nil {
				exitErr("serve", err)
			}
		},
	}
}

func ipcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ipc",
		Short: "Serve suggestions over msgpack on stdin/stdout",
		Run: func(_ *cobra.Command, _ []string) {
			cfg := config.Load(configPath)
			store := openStore(cfg)
			defer store.Close()

			backend, err := search.New(context.Background(), cfg.Search, store)
			if err != nil {
				exitErr("init search backend", err)
			}

			log.Debug("spawning IPC")
			if err := server.NewIPC(backend, cfg).Start(); err != nil {
				exitErr("ipc", err)
			}
		},
	}
}

func trendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Print trending tags for a recent window",
		Run: func(cmd *cobra.Command, _ []string) {
			days, _ := cmd.Flags().GetInt("days")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg := config.Load(configPath)
			store := openStore(cfg)
			defer store.Close()

			counts, err := trending.New(store, trending.Options{}).
				Aggregate(cmd.Context(), days, limit)
			if err != nil {
				exitErr("aggregate", err)
			}
			if len(counts) == 0 {
				log.Printf("no tag usage in the last %d days", days)
				return
			}
			for i, c := range counts {
				log.Printf("%2d. #%-30s %8s", i+1, c.Key, utils.FormatWithCommas(c.Count))
			}
		},
	}
	cmd.Flags().Int("days", 7, "Window size in days")
	cmd.Flags().IntP("limit", "l", 20, "Max tags to show")
	return cmd
}

// backfillPost mirrors one NDJSON input line.
type backfillPost struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"createdAt"`
}

func backfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill [file]",
		Short: "Import posts from an NDJSON file into the tag index",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			snapshotPath, _ := cmd.Flags().GetString("snapshot")

			cfg := config.Load(configPath)
			if snapshotPath == "" {
				snapshotPath = cfg.Store.SnapshotPath
			}
			store := openStore(cfg)
			defer store.Close()

			f, err := os.Open(args[0])
			if err != nil {
				exitErr("open input", err)
			}
			defer f.Close()

			posts, skipped := 0, 0
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
			for lineNo := 1; scanner.Scan(); lineNo++ {
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}
				var p backfillPost
				if err := json.Unmarshal(line, &p); err != nil {
					log.Warnf("line %d: bad JSON, skipped: %v", lineNo, err)
					skipped++
					continue
				}
				createdAt := time.Time{}
				if p.CreatedAt != "" {
					t, err := time.Parse(time.RFC3339, p.CreatedAt)
					if err != nil {
						log.Warnf("line %d: bad createdAt, skipped: %v", lineNo, err)
						skipped++
						continue
					}
					createdAt = t
				}

				raw := append([]string{}, p.Tags...)
				for _, ref := range normalize.ExtractHashtags(p.Text) {
					raw = append(raw, ref.Display)
				}
				if _, err := store.RecordPost(cmd.Context(), p.ID, raw, createdAt); err != nil {
					exitErr(fmt.Sprintf("record post at line %d", lineNo), err)
				}
				posts++
			}
			if err := scanner.Err(); err != nil {
				exitErr("read input", err)
			}
			log.Infof("backfilled %d posts (%d lines skipped)", posts, skipped)

			if snapshotPath != "" {
				if err := utils.EnsureParentDir(snapshotPath); err != nil {
					exitErr("create snapshot dir", err)
				}
				n, err := store.WriteSnapshot(cmd.Context(), snapshotPath)
				if err != nil {
					exitErr("write snapshot", err)
				}
				log.Infof("snapshot of %d tags written to %s", n, snapshotPath)
			}
		},
	}
	cmd.Flags().String("snapshot", "", "Also write a msgpack tag snapshot to this path")
	return cmd
}
