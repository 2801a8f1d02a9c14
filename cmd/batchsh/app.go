// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/invowk/batchsh/internal/adaptors/slurm"
	"github.com/invowk/batchsh/internal/config"
	"github.com/invowk/batchsh/internal/credential"
	"github.com/invowk/batchsh/internal/issue"
	"github.com/invowk/batchsh/internal/logging"
	"github.com/invowk/batchsh/internal/metrics"
	"github.com/invowk/batchsh/internal/scripting"
	"github.com/invowk/batchsh/pkg/types"
)

type (
	// Session is everything resolved from flags, configuration and the
	// environment before a scheduler is opened.
	Session struct {
		Config     *config.Config
		ConfigPath string
		Location   types.Location
		Credential credential.Credential
		// Properties are the configured properties plus the poll delay.
		Properties map[string]string
		Logger     *log.Logger
		Registry   *prometheus.Registry
		Metrics    *metrics.Collector
	}

	// SchedulerOpener connects the Slurm adaptor for a session.
	SchedulerOpener func(ctx context.Context, s *Session) (*slurm.Scheduler, error)

	// ConfigLoader loads the configuration.
	ConfigLoader func(ctx context.Context, opts config.LoadOptions) (*config.Config, string, error)

	// App wires CLI services and shared dependencies. All Cobra command
	// handlers receive an App reference.
	App struct {
		Open       SchedulerOpener
		LoadConfig ConfigLoader
		stdin      io.Reader
		stdout     io.Writer
		stderr     io.Writer
		getenv     func(string) string
		flags      globalFlags
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Open       SchedulerOpener
		LoadConfig ConfigLoader
		Stdin      io.Reader
		Stdout     io.Writer
		Stderr     io.Writer
		Getenv     func(string) string
	}

	// globalFlags are the persistent flags of the root command.
	globalFlags struct {
		verbose     bool
		configPath  string
		target      string
		user        string
		keyFile     string
		passwordEnv string
	}
)

// NewApp builds an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	a := &App{
		Open:       deps.Open,
		LoadConfig: deps.LoadConfig,
		stdin:      deps.Stdin,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
		getenv:     deps.Getenv,
	}
	if a.Open == nil {
		a.Open = OpenSlurm
	}
	if a.LoadConfig == nil {
		a.LoadConfig = config.Load
	}
	if a.stdin == nil {
		a.stdin = os.Stdin
	}
	if a.stdout == nil {
		a.stdout = os.Stdout
	}
	if a.stderr == nil {
		a.stderr = os.Stderr
	}
	if a.getenv == nil {
		a.getenv = os.Getenv
	}
	return a
}

// OpenSlurm is the production SchedulerOpener.
func OpenSlurm(_ context.Context, s *Session) (*slurm.Scheduler, error) {
	return slurm.New(s.Location, s.Credential, s.Properties,
		scripting.WithLogger(s.Logger),
		scripting.WithMetrics(s.Metrics),
	)
}

// session resolves the configuration, applies flag overrides and builds
// the logger, credential and metrics of one command invocation.
func (a *App) session(ctx context.Context) (*Session, error) {
	cfg, path, err := a.LoadConfig(ctx, config.LoadOptions{ConfigFilePath: a.flags.configPath})
	if err != nil {
		return nil, err
	}

	if a.flags.target != "" {
		cfg.Target = a.flags.target
	}
	if a.flags.user != "" {
		cfg.User = a.flags.user
	}
	if a.flags.keyFile != "" {
		cfg.KeyFile = a.flags.keyFile
	}
	if a.flags.passwordEnv != "" {
		cfg.PasswordEnv = a.flags.passwordEnv
	}

	level := cfg.LogLevel
	if a.flags.verbose {
		level = "debug"
	}
	logger, err := logging.New(a.stderr, level)
	if err != nil {
		return nil, err
	}

	cred, err := a.credential(cfg)
	if err != nil {
		return nil, err
	}

	properties := maps.Clone(cfg.Properties)
	if properties == nil {
		properties = map[string]string{}
	}
	if _, ok := properties[slurm.PollDelayProperty]; !ok {
		properties[slurm.PollDelayProperty] = strconv.Itoa(cfg.PollDelayMs)
	}

	reg := prometheus.NewRegistry()
	s := &Session{
		Config:     cfg,
		ConfigPath: path,
		Location:   cfg.Location(),
		Credential: cred,
		Properties: properties,
		Logger:     logger,
		Registry:   reg,
		Metrics:    metrics.NewCollector(reg),
	}
	logger.Debug("session resolved", "target", s.Location, "user", cfg.User, "config", path)
	return s, nil
}

// credential picks password, key file or default authentication, in that
// order.
func (a *App) credential(cfg *config.Config) (credential.Credential, error) {
	switch {
	case cfg.PasswordEnv != "":
		secret := a.getenv(cfg.PasswordEnv)
		if secret == "" {
			return nil, issue.NewErrorContext().
				WithOperation("read password").
				WithResource("$" + cfg.PasswordEnv).
				WithSuggestion(fmt.Sprintf("Export %s before running batchsh", cfg.PasswordEnv)).
				WithIssue(issue.AuthenticationFailedId).
				Wrap(&credential.InvalidCredentialError{Kind: "password", Reason: "environment variable is empty"}).
				BuildError()
		}
		return credential.Password{User: cfg.User, Secret: secret}, nil
	case cfg.KeyFile != "":
		return credential.KeyFile{User: cfg.User, Path: cfg.KeyFile}, nil
	default:
		return credential.Default{User: cfg.User}, nil
	}
}

// withScheduler opens the scheduler of the session, runs fn and closes the
// scheduler again.
func (a *App) withScheduler(ctx context.Context, fn func(*slurm.Scheduler, *Session) error) error {
	s, err := a.session(ctx)
	if err != nil {
		return err
	}
	sched, err := a.Open(ctx, s)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sched.Close(); cerr != nil {
			s.Logger.Warn("failed to close scheduler", "error", cerr)
		}
	}()
	return fn(sched, s)
}
