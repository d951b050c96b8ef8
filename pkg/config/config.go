/*
Package config manages TOML config for tagserve services, with a .env
overlay for deploy-time values.
*/
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// Backend selector values for [search].
const (
	BackendEmbedded = "embedded"
	BackendDelegate = "delegate"
)

// Config holds the entire config structure.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Search    SearchConfig    `toml:"search"`
	Trending  TrendingConfig  `toml:"trending"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Client    ClientConfig    `toml:"client"`
}

// ServerConfig has HTTP boundary options.
type ServerConfig struct {
	Addr        string `toml:"addr"`
	MaxLimit    int    `toml:"max_limit"`
	MaxQueryLen int    `toml:"max_query_len"`
}

// StoreConfig locates the tag database.
type StoreConfig struct {
	Path         string `toml:"path"`
	SnapshotPath string `toml:"snapshot_path"`
}

// SearchConfig selects and tunes the backend.
type SearchConfig struct {
	Backend     string `toml:"backend"` // "embedded" or "delegate"
	DelegateURL string `toml:"delegate_url"`
	TimeoutMs   int    `toml:"timeout_ms"`
	MinGram     int    `toml:"min_gram"`
	MaxGram     int    `toml:"max_gram"`
}

// TrendingConfig bounds the aggregation window.
type TrendingConfig struct {
	MaxDays      int `toml:"max_days"`
	MaxLimit     int `toml:"max_limit"`
	CacheTTLMs   int `toml:"cache_ttl_ms"`
	HalfLifeDays int `toml:"half_life_days"`
}

// RateLimitConfig holds per-action admission windows.
type RateLimitConfig struct {
	SuggestWindowMs  int `toml:"suggest_window_ms"`
	SuggestMax       int `toml:"suggest_max"`
	SearchWindowMs   int `toml:"search_window_ms"`
	SearchMax        int `toml:"search_max"`
	TrendingWindowMs int `toml:"trending_window_ms"`
	TrendingMax      int `toml:"trending_max"`
	RetentionMs      int `toml:"retention_ms"`
	ReapIntervalMs   int `toml:"reap_interval_ms"`
}

// ClientConfig holds suggestion controller defaults.
type ClientConfig struct {
	DebounceMs     int `toml:"debounce_ms"`
	CacheSize      int `toml:"cache_size"`
	MinQueryLen    int `toml:"min_query_len"`
	MaxSuggestions int `toml:"max_suggestions"`
}

// Default returns a Config with built-in values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8087",
			MaxLimit:    50,
			MaxQueryLen: 100,
		},
		Store: StoreConfig{
			Path: "data/tags.db",
		},
		Search: SearchConfig{
			Backend:   BackendEmbedded,
			TimeoutMs: 3000,
			MinGram:   2,
			MaxGram:   3,
		},
		Trending: TrendingConfig{
			MaxDays:    90,
			MaxLimit:   100,
			CacheTTLMs: 30000,
		},
		RateLimit: RateLimitConfig{
			SuggestWindowMs:  60000,
			SuggestMax:       60,
			SearchWindowMs:   60000,
			SearchMax:        30,
			TrendingWindowMs: 60000,
			TrendingMax:      30,
			RetentionMs:      300000,
			ReapIntervalMs:   60000,
		},
		Client: ClientConfig{
			DebounceMs:     120,
			CacheSize:      100,
			MinQueryLen:    1,
			MaxSuggestions: 10,
		},
	}
}

// Load reads path over the defaults, then applies the environment
// overlay. A missing or broken file falls back to defaults with a
// warning rather than failing startup.
func Load(path string) *Config {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			log.Warnf("config file %s not found, using defaults: %v", path, err)
		} else if _, err := toml.DecodeFile(path, cfg); err != nil {
			log.Warnf("failed to parse config %s, using defaults: %v", path, err)
			cfg = Default()
		} else {
			log.Debugf("loaded config from %s", path)
		}
	}

	applyEnv(cfg)
	return cfg
}

// Save writes cfg as TOML, creating the file if missing.
func Save(cfg *Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// applyEnv overlays deploy-time values. .env is optional.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("TAGSERVE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TAGSERVE_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("TAGSERVE_BACKEND"); v != "" {
		cfg.Search.Backend = v
	}
	if v := os.Getenv("TAGSERVE_DELEGATE_URL"); v != "" {
		cfg.Search.DelegateURL = v
	}
}
