// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/invowk/batchsh/pkg/types"
)

const (
	// DefaultTarget runs scheduler tools on the local host.
	DefaultTarget = "local"
	// DefaultPollDelayMs is the default interval between job status polls.
	DefaultPollDelayMs = 1000
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "warn"
	// DefaultListen is the default address of the loopback SSH endpoint.
	DefaultListen = "127.0.0.1:2222"
	// DefaultShell runs commands received by the loopback SSH endpoint.
	DefaultShell = "/bin/sh"
)

// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid config")

// LogLevels are the accepted log_level values.
var LogLevels = []string{"debug", "info", "warn", "error"}

type (
	// Config is the batchsh configuration.
	Config struct {
		Target      string            `json:"target" mapstructure:"target" toml:"target"`
		User        string            `json:"user,omitempty" mapstructure:"user" toml:"user,omitempty"`
		KeyFile     string            `json:"key_file,omitempty" mapstructure:"key_file" toml:"key_file,omitempty"`
		PasswordEnv string            `json:"password_env,omitempty" mapstructure:"password_env" toml:"password_env,omitempty"`
		PollDelayMs int               `json:"poll_delay_ms" mapstructure:"poll_delay_ms" toml:"poll_delay_ms"`
		LogLevel    string            `json:"log_level" mapstructure:"log_level" toml:"log_level"`
		Properties  map[string]string `json:"properties,omitempty" mapstructure:"properties" toml:"properties,omitempty"`
		Server      ServerConfig      `json:"server" mapstructure:"server" toml:"server"`
	}

	// ServerConfig configures the loopback SSH endpoint.
	ServerConfig struct {
		Listen string `json:"listen" mapstructure:"listen" toml:"listen"`
		Shell  string `json:"shell" mapstructure:"shell" toml:"shell"`
	}

	// InvalidConfigError collects the field errors of a Config.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Target:      DefaultTarget,
		PollDelayMs: DefaultPollDelayMs,
		LogLevel:    DefaultLogLevel,
		Properties:  map[string]string{},
		Server: ServerConfig{
			Listen: DefaultListen,
			Shell:  DefaultShell,
		},
	}
}

// Location returns the target as a location.
func (c *Config) Location() types.Location { return types.Location(c.Target) }

// Validate checks the constraints that environment overrides can break
// after schema validation.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Location().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("target: %w", err))
	}
	if c.PollDelayMs < 0 {
		errs = append(errs, fmt.Errorf("poll_delay_ms: %d must not be negative", c.PollDelayMs))
	}
	if !slices.Contains(LogLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level: %q must be one of %s", c.LogLevel, strings.Join(LogLevels, ", ")))
	}
	for name := range c.Properties {
		if !strings.HasPrefix(name, "batchsh.") {
			errs = append(errs, fmt.Errorf("properties: %q must start with \"batchsh.\"", name))
		}
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen: must not be empty"))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }
