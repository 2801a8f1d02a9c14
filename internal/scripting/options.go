// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"github.com/charmbracelet/log"

	"github.com/invowk/batchsh/internal/clock"
	"github.com/invowk/batchsh/internal/credential"
	"github.com/invowk/batchsh/internal/metrics"
	"github.com/invowk/batchsh/internal/pathfs"
	"github.com/invowk/batchsh/internal/substrate"
	"github.com/invowk/batchsh/pkg/types"
)

type (
	// SubstrateFactory creates the execution substrate of a scheduler.
	SubstrateFactory func(scheme string, location types.Location, cred credential.Credential,
		values map[string]string) (substrate.Substrate, error)

	// FileSystemFactory creates the file system of a scheduler.
	FileSystemFactory func(scheme string, location types.Location, cred credential.Credential,
		values map[string]string) (pathfs.FileSystem, error)

	// Option configures a Scheduler.
	Option func(*options)

	options struct {
		logger      *log.Logger
		clock       clock.Clock
		metrics     *metrics.Collector
		substrates  SubstrateFactory
		fileSystems FileSystemFactory
	}
)

// WithLogger sets the logger. Substrates and file systems created by the
// default factories log through it too.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock that drives the wait helpers.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics records commands and waits in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithSubstrateFactory replaces substrate.Create.
func WithSubstrateFactory(f SubstrateFactory) Option {
	return func(o *options) { o.substrates = f }
}

// WithFileSystemFactory replaces pathfs.Create.
func WithFileSystemFactory(f FileSystemFactory) Option {
	return func(o *options) { o.fileSystems = f }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.substrates == nil {
		logger, clk := o.logger, o.clock
		o.substrates = func(scheme string, location types.Location, cred credential.Credential,
			values map[string]string,
		) (substrate.Substrate, error) {
			return substrate.Create(scheme, location, cred, values,
				substrate.WithLogger(logger), substrate.WithClock(clk))
		}
	}
	if o.fileSystems == nil {
		logger := o.logger
		o.fileSystems = func(scheme string, location types.Location, cred credential.Credential,
			values map[string]string,
		) (pathfs.FileSystem, error) {
			return pathfs.Create(scheme, location, cred, values, pathfs.WithLogger(logger))
		}
	}
	return o
}
