package prodcache

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default env config values.
const (
	DefaultEnvUserAgent = "prodcache/1.0"

	DefaultEnvLookupPerWindow = 10
	DefaultEnvSearchPerWindow = 5
	DefaultEnvWindow          = time.Minute
	DefaultEnvMaxConcurrent   = 4
	DefaultEnvWarmConcurrent  = 2
)

// EnvConfig holds the knobs loaded by LoadEnv.
type EnvConfig struct {
	// BaseURL is the root URL of the remote product directory. Required.
	BaseURL string

	// UserAgent identifies this app to the upstream (name/version/contact),
	// required by the upstream's usage policy.
	UserAgent string

	// DBPath is the local sqlite database path. Required.
	DBPath string

	// LookupPerWindow and SearchPerWindow are the per-window token budgets
	// of the "productLookup" and "search" rate channels.
	LookupPerWindow int
	SearchPerWindow int

	// Window is the rate limiter window duration shared by both channels.
	Window time.Duration

	// MaxConcurrent caps simultaneously in-flight remote calls across all
	// channels.
	MaxConcurrent int

	// WarmConcurrent caps background warm-up (prefetch) parallelism,
	// independent of MaxConcurrent.
	WarmConcurrent int
}

// LoadEnv loads configuration from the environment, reading a .env file
// first if one is present.
//
// Understood variables, all prefixed PRODCACHE_:
//
//	PRODCACHE_BASE_URL          (required)
//	PRODCACHE_DB_PATH           (required)
//	PRODCACHE_USER_AGENT
//	PRODCACHE_LOOKUP_PER_WINDOW
//	PRODCACHE_SEARCH_PER_WINDOW
//	PRODCACHE_WINDOW            (Go duration, e.g. "1m")
//	PRODCACHE_MAX_CONCURRENT
//	PRODCACHE_WARM_CONCURRENT
func LoadEnv() (*EnvConfig, error) {
	// Missing .env is fine, real env vars still apply.
	_ = godotenv.Load()

	cfg := &EnvConfig{
		BaseURL:         os.Getenv("PRODCACHE_BASE_URL"),
		UserAgent:       os.Getenv("PRODCACHE_USER_AGENT"),
		DBPath:          os.Getenv("PRODCACHE_DB_PATH"),
		LookupPerWindow: DefaultEnvLookupPerWindow,
		SearchPerWindow: DefaultEnvSearchPerWindow,
		Window:          DefaultEnvWindow,
		MaxConcurrent:   DefaultEnvMaxConcurrent,
		WarmConcurrent:  DefaultEnvWarmConcurrent,
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("prodcache: PRODCACHE_BASE_URL is required")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("prodcache: PRODCACHE_DB_PATH is required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultEnvUserAgent
	}

	var err error
	if cfg.LookupPerWindow, err = envInt(
		"PRODCACHE_LOOKUP_PER_WINDOW",
		cfg.LookupPerWindow,
	); err != nil {
		return nil, err
	}
	if cfg.SearchPerWindow, err = envInt(
		"PRODCACHE_SEARCH_PER_WINDOW",
		cfg.SearchPerWindow,
	); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent, err = envInt(
		"PRODCACHE_MAX_CONCURRENT",
		cfg.MaxConcurrent,
	); err != nil {
		return nil, err
	}
	if cfg.WarmConcurrent, err = envInt(
		"PRODCACHE_WARM_CONCURRENT",
		cfg.WarmConcurrent,
	); err != nil {
		return nil, err
	}
	if value := os.Getenv("PRODCACHE_WINDOW"); value != "" {
		cfg.Window, err = time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("prodcache: invalid PRODCACHE_WINDOW %q: %w", value, err)
		}
	}
	return cfg, nil
}

func envInt(name string, def int) (int, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("prodcache: invalid %s %q: %w", name, value, err)
	}
	return n, nil
}
