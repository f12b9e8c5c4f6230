package local

import (
	"log"
)

// Options defines a read-only view of options used by the local store.
type Options interface {
	// GetPath returns the sqlite database path.
	//
	// ":memory:" opens a private in-memory database, useful in tests.
	GetPath() string

	// GetLogger returns the logger to be used by the store.
	//
	// If it returns nil, nothing will be logged.
	GetLogger() *log.Logger
}

// OptionsBuilder defines a read-write view of options used by the local
// store.
type OptionsBuilder interface {
	Options

	// Build returns the read-only version of options.
	Build() Options

	// SetLogger sets the logger used by the store.
	SetLogger(logger *log.Logger) OptionsBuilder
}

type options struct {
	path   string
	logger *log.Logger
}

// NewDefaultOptions creates an OptionsBuilder with default options for the
// database at path.
func NewDefaultOptions(path string) OptionsBuilder {
	return &options{
		path: path,
	}
}

func (opt *options) GetPath() string {
	return opt.path
}

func (opt *options) GetLogger() *log.Logger {
	return opt.logger
}

func (opt *options) Build() Options {
	return opt
}

func (opt *options) SetLogger(logger *log.Logger) OptionsBuilder {
	opt.logger = logger
	return opt
}
