package hybrid

import (
	"log"

	"github.com/foodscan/prodcache"
	"github.com/foodscan/prodcache/throttle"
)

// Default options values.
const (
	DefaultWarmConcurrency = 2
	DefaultSearchPageSize  = 50
)

// Options defines a read-only view of options used by the hybrid cache.
type Options interface {
	// GetThrottleOptions returns the options of the throttle in front of
	// all remote calls.
	GetThrottleOptions() throttle.Options

	// GetWarmConcurrency returns the cap on background warm-up jobs
	// running at once, independent of the throttle's concurrency cap.
	GetWarmConcurrency() int

	// GetSearchPageSize returns the page size requested from the remote
	// search endpoint.
	GetSearchPageSize() int

	// GetLogger returns the logger to be used by the cache.
	//
	// Degraded remote failures are only visible here; if it returns nil,
	// nothing will be logged.
	GetLogger() *log.Logger
}

// OptionsBuilder defines a read-write view of options used by the hybrid
// cache.
type OptionsBuilder interface {
	Options

	// Build returns the read-only version of options.
	Build() Options

	// SetThrottleOptions sets the throttle options.
	SetThrottleOptions(opts throttle.Options) OptionsBuilder

	// SetWarmConcurrency sets the background warm-up concurrency cap.
	SetWarmConcurrency(n int) OptionsBuilder

	// SetSearchPageSize sets the remote search page size.
	SetSearchPageSize(n int) OptionsBuilder

	// SetLogger sets the logger used by the cache.
	SetLogger(logger *log.Logger) OptionsBuilder
}

type options struct {
	throttleOpts throttle.Options
	warm         int
	pageSize     int
	logger       *log.Logger
}

// NewDefaultOptions creates an OptionsBuilder with default options.
func NewDefaultOptions() OptionsBuilder {
	return &options{
		throttleOpts: throttle.NewDefaultOptions().Build(),
		warm:         DefaultWarmConcurrency,
		pageSize:     DefaultSearchPageSize,
	}
}

// NewEnvOptions creates an OptionsBuilder from env-loaded configuration.
func NewEnvOptions(cfg *prodcache.EnvConfig) OptionsBuilder {
	throttleOpts := throttle.NewDefaultOptions().
		SetChannelCapacity(throttle.ChannelProductLookup, cfg.LookupPerWindow).
		SetChannelCapacity(throttle.ChannelSearch, cfg.SearchPerWindow).
		SetWindow(cfg.Window).
		SetMaxConcurrent(cfg.MaxConcurrent).
		Build()
	return NewDefaultOptions().
		SetThrottleOptions(throttleOpts).
		SetWarmConcurrency(cfg.WarmConcurrent)
}

func (opt *options) GetThrottleOptions() throttle.Options {
	return opt.throttleOpts
}

func (opt *options) GetWarmConcurrency() int {
	return opt.warm
}

func (opt *options) GetSearchPageSize() int {
	return opt.pageSize
}

func (opt *options) GetLogger() *log.Logger {
	return opt.logger
}

func (opt *options) Build() Options {
	return opt
}

func (opt *options) SetThrottleOptions(opts throttle.Options) OptionsBuilder {
	opt.throttleOpts = opts
	return opt
}

func (opt *options) SetWarmConcurrency(n int) OptionsBuilder {
	opt.warm = n
	return opt
}

func (opt *options) SetSearchPageSize(n int) OptionsBuilder {
	opt.pageSize = n
	return opt
}

func (opt *options) SetLogger(logger *log.Logger) OptionsBuilder {
	opt.logger = logger
	return opt
}
