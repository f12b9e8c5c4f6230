package remote

import (
	"log"
	"net/http"
	"time"
)

// Default options values.
const (
	DefaultUserAgent = "prodcache/1.0 (https://github.com/foodscan/prodcache)"

	DefaultTimeout time.Duration = time.Second * 20

	DefaultMaxBodySize int64 = 1 << 20
)

// Options defines a read-only view of options used by the remote client.
type Options interface {
	// GetBaseURL returns the root URL of the remote product directory,
	// without a trailing slash.
	GetBaseURL() string

	// GetUserAgent returns the fixed identifying header value sent with
	// every request (app name/version/contact), required by the upstream's
	// usage policy.
	GetUserAgent() string

	// GetHTTPClient returns the http.Client used for requests.
	GetHTTPClient() *http.Client

	// GetMaxBodySize returns the cap on response body bytes read.
	GetMaxBodySize() int64

	// GetLogger returns the logger to be used by the client.
	//
	// If it returns nil, nothing will be logged.
	GetLogger() *log.Logger
}

// OptionsBuilder defines a read-write view of options used by the remote
// client.
type OptionsBuilder interface {
	Options

	// Build returns the read-only version of options.
	Build() Options

	// SetUserAgent sets the identifying header value.
	SetUserAgent(ua string) OptionsBuilder

	// SetHTTPClient sets the http.Client used for requests.
	SetHTTPClient(client *http.Client) OptionsBuilder

	// SetMaxBodySize sets the cap on response body bytes read.
	SetMaxBodySize(size int64) OptionsBuilder

	// SetLogger sets the logger used by the client.
	SetLogger(logger *log.Logger) OptionsBuilder
}

type options struct {
	baseURL   string
	userAgent string
	client    *http.Client
	maxBody   int64
	logger    *log.Logger
}

// NewDefaultOptions creates an OptionsBuilder with default options for the
// directory at baseURL.
func NewDefaultOptions(baseURL string) OptionsBuilder {
	return &options{
		baseURL:   baseURL,
		userAgent: DefaultUserAgent,
		client:    &http.Client{Timeout: DefaultTimeout},
		maxBody:   DefaultMaxBodySize,
	}
}

func (opt *options) GetBaseURL() string {
	return opt.baseURL
}

func (opt *options) GetUserAgent() string {
	return opt.userAgent
}

func (opt *options) GetHTTPClient() *http.Client {
	return opt.client
}

func (opt *options) GetMaxBodySize() int64 {
	return opt.maxBody
}

func (opt *options) GetLogger() *log.Logger {
	return opt.logger
}

func (opt *options) Build() Options {
	return opt
}

func (opt *options) SetUserAgent(ua string) OptionsBuilder {
	opt.userAgent = ua
	return opt
}

func (opt *options) SetHTTPClient(client *http.Client) OptionsBuilder {
	opt.client = client
	return opt
}

func (opt *options) SetMaxBodySize(size int64) OptionsBuilder {
	opt.maxBody = size
	return opt
}

func (opt *options) SetLogger(logger *log.Logger) OptionsBuilder {
	opt.logger = logger
	return opt
}
