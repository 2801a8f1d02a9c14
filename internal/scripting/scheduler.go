// SPDX-License-Identifier: MPL-2.0

// Package scripting is the shared core of scheduler adaptors that drive a
// batch system through its command-line tools. A Scheduler runs those tools
// on the local host or over SSH, validates job preconditions and polls job
// status until a deadline.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/batchsh/internal/clock"
	"github.com/invowk/batchsh/internal/credential"
	"github.com/invowk/batchsh/internal/logging"
	"github.com/invowk/batchsh/internal/metrics"
	"github.com/invowk/batchsh/internal/pathfs"
	"github.com/invowk/batchsh/internal/props"
	"github.com/invowk/batchsh/internal/runner"
	"github.com/invowk/batchsh/internal/sshconn"
	"github.com/invowk/batchsh/internal/substrate"
	"github.com/invowk/batchsh/pkg/job"
	"github.com/invowk/batchsh/pkg/types"
)

// RemotePollDelay is the poll delay forced on the ssh substrate. Scheduler
// tools return almost immediately, so their completion is polled quickly.
const RemotePollDelay = "100"

type (
	// Config describes the scheduler to create.
	Config struct {
		// AdaptorName prefixes errors and labels metrics.
		AdaptorName string
		// Location is the host the scheduler tools run on.
		Location types.Location
		// Credential authenticates remote locations.
		Credential credential.Credential

		SupportsBatch       bool
		SupportsInteractive bool

		// Properties are the user supplied property values.
		Properties map[string]string
		// ValidProperties are the recognized property descriptors. They must
		// include the substrate properties that may be passed through.
		ValidProperties []props.Description
		// PollDelayProperty names the property holding the poll interval of
		// the wait helpers, in milliseconds.
		PollDelayProperty string
	}

	// QueueSource lists the queues a scheduler knows.
	QueueSource interface {
		QueueNames(ctx context.Context) ([]string, error)
	}

	// StatusSource queries the status of one job.
	StatusSource interface {
		JobStatus(ctx context.Context, id job.Identifier) (job.Status, error)
	}

	// Scheduler owns one execution substrate and one file system bound to the
	// same location. It is safe for concurrent use; only Close mutates it.
	Scheduler struct {
		adaptor             string
		location            types.Location
		supportsBatch       bool
		supportsInteractive bool
		properties          *props.Properties
		pollDelay           time.Duration

		sub substrate.Substrate
		fs  pathfs.FileSystem

		logger  *log.Logger
		clock   clock.Clock
		metrics *metrics.Collector

		closeOnce sync.Once
	}
)

// New validates cfg and creates the substrate and file system of the
// scheduler. The local location maps to the local/file schemes rooted at
// "/"; anything else maps to ssh/sftp rooted at the host.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	o := buildOptions(opts)
	logger := logging.Component(o.logger, "scripting")

	fail := func(err error) (*Scheduler, error) {
		return nil, &ConstructionError{Adaptor: cfg.AdaptorName, Location: cfg.Location, Cause: err}
	}

	if err := cfg.Location.Validate(); err != nil {
		return fail(err)
	}
	p, err := props.New(cfg.ValidProperties, cfg.Properties)
	if err != nil {
		return fail(err)
	}
	pollDelay, err := p.Millis(cfg.PollDelayProperty)
	if err != nil {
		return fail(err)
	}

	var (
		subScheme, fsScheme string
		root                types.Location
		subValues, fsValues map[string]string
	)
	if cfg.Location.IsLocal() {
		subScheme, fsScheme = substrate.SchemeLocal, pathfs.SchemeFile
		root = "/"
		subValues = p.Filter(substrate.LocalPrefix)
	} else {
		subScheme, fsScheme = substrate.SchemeSSH, pathfs.SchemeSFTP
		root = types.Location(cfg.Location.Host())
		subValues = p.Filter(sshconn.Prefix)
		fsValues = withoutPollDelay(subValues)
		subValues[substrate.SSHPollDelayProperty] = RemotePollDelay
	}

	logger.Debug("creating substrate", "adaptor", cfg.AdaptorName, "scheme", subScheme, "location", root)
	sub, err := o.substrates(subScheme, root, cfg.Credential, subValues)
	if err != nil {
		return fail(err)
	}

	logger.Debug("creating file system", "adaptor", cfg.AdaptorName, "scheme", fsScheme, "location", root)
	fs, err := o.fileSystems(fsScheme, root, cfg.Credential, fsValues)
	if err != nil {
		if cerr := sub.Close(); cerr != nil {
			logger.Warn("failed to close substrate", "error", cerr)
		}
		return fail(err)
	}

	s := &Scheduler{
		adaptor:             cfg.AdaptorName,
		location:            cfg.Location,
		supportsBatch:       cfg.SupportsBatch,
		supportsInteractive: cfg.SupportsInteractive,
		properties:          p,
		pollDelay:           pollDelay,
		sub:                 sub,
		fs:                  fs,
		logger:              logger,
		clock:               o.clock,
		metrics:             o.metrics,
	}
	s.metrics.SchedulerOpened(s.adaptor)
	return s, nil
}

// withoutPollDelay copies the connection properties that a file system
// understands.
func withoutPollDelay(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if k != substrate.SSHPollDelayProperty {
			out[k] = v
		}
	}
	return out
}

// AdaptorName returns the adaptor the scheduler was created for.
func (s *Scheduler) AdaptorName() string { return s.adaptor }

// Location returns the configured location.
func (s *Scheduler) Location() types.Location { return s.location }

// SupportsBatch reports whether the adaptor accepts batch jobs.
func (s *Scheduler) SupportsBatch() bool { return s.supportsBatch }

// SupportsInteractive reports whether the adaptor accepts interactive jobs.
func (s *Scheduler) SupportsInteractive() bool { return s.supportsInteractive }

// Properties returns the validated properties.
func (s *Scheduler) Properties() *props.Properties { return s.properties }

// PollDelay returns the interval between status queries of the wait helpers.
func (s *Scheduler) PollDelay() time.Duration { return s.pollDelay }

// EntryPath returns the directory relative working directories resolve
// against.
func (s *Scheduler) EntryPath() string { return s.fs.EntryPath() }

// Substrate returns the execution substrate.
func (s *Scheduler) Substrate() substrate.Substrate { return s.sub }

// RunCommand starts executable with stdin as its input. The returned runner
// yields the result once the command finishes.
func (s *Scheduler) RunCommand(ctx context.Context, stdin, executable string, args ...string) (*runner.Runner, error) {
	s.logger.Debug("running command", "executable", executable, "args", args)
	return runner.Start(ctx, s.sub, s.adaptor, stdin, executable, args...)
}

// RunCheckedCommand runs executable to completion and returns its stdout.
// A non-zero exit code or any output on stderr fails with *ExecutionError.
func (s *Scheduler) RunCheckedCommand(ctx context.Context, stdin, executable string, args ...string) (string, error) {
	start := s.clock.Now()

	r, err := s.RunCommand(ctx, stdin, executable, args...)
	if err != nil {
		s.metrics.ObserveCommand(s.adaptor, metrics.ResultError, s.clock.Since(start))
		return "", err
	}
	res, err := r.Result()
	if err != nil {
		s.metrics.ObserveCommand(s.adaptor, metrics.ResultError, s.clock.Since(start))
		return "", err
	}

	if !res.Success() {
		s.metrics.ObserveCommand(s.adaptor, metrics.ResultFailure, s.clock.Since(start))
		return "", &ExecutionError{
			Adaptor:    s.adaptor,
			Executable: executable,
			Arguments:  r.Arguments(),
			Stdin:      stdin,
			Target:     r.Target(),
			ExitCode:   res.ExitCode,
			Stdout:     res.Stdout,
			Stderr:     res.Stderr,
		}
	}

	s.metrics.ObserveCommand(s.adaptor, metrics.ResultSuccess, s.clock.Since(start))
	return res.Stdout, nil
}

// StartInteractiveCommand starts executable on the unlimited queue and
// returns its live streams. The substrate owns the process.
func (s *Scheduler) StartInteractiveCommand(ctx context.Context, executable string, args ...string) (*job.Streams, error) {
	desc := job.Description{
		Queue:      job.UnlimitedQueue,
		Executable: executable,
		Arguments:  slices.Clone(args),
	}
	s.logger.Debug("starting interactive command", "executable", executable, "args", args)
	return s.sub.SubmitInteractive(ctx, desc)
}

// CheckQueueNames fails with *job.NoSuchQueueError naming the given queues
// that source does not know. Names match exactly.
func (s *Scheduler) CheckQueueNames(ctx context.Context, source QueueSource, names ...string) error {
	known, err := source.QueueNames(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to list queues: %w", s.adaptor, err)
	}

	var invalid []string
	for _, name := range names {
		if !slices.Contains(known, name) && !slices.Contains(invalid, name) {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		return job.NewNoSuchQueueError(invalid...)
	}
	return nil
}

// CheckWorkingDirectory fails with *InvalidWorkingDirectoryError when dir
// does not exist on the target. Relative paths resolve against the entry
// path. An empty dir is accepted.
func (s *Scheduler) CheckWorkingDirectory(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}

	resolved := dir
	if !strings.HasPrefix(dir, "/") {
		resolved = pathfs.Resolve(s.fs.EntryPath(), dir)
	}

	ok, err := s.fs.Exists(ctx, resolved)
	if err != nil {
		return fmt.Errorf("%s: failed to check working directory %s: %w", s.adaptor, resolved, err)
	}
	if !ok {
		return &InvalidWorkingDirectoryError{Adaptor: s.adaptor, Path: resolved}
	}
	return nil
}

// Close closes the substrate and the file system. Both are attempted even
// if one fails. Later calls do nothing.
func (s *Scheduler) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = errors.Join(s.sub.Close(), s.fs.Close())
		s.metrics.SchedulerClosed(s.adaptor)
		s.logger.Debug("scheduler closed", "adaptor", s.adaptor, "error", err)
	})
	return err
}
