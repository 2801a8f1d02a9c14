// SPDX-License-Identifier: MPL-2.0

// Package config loads the batchsh configuration with Viper, using CUE as
// the file format.
//
// The file is config.cue in the batchsh configuration directory
// ($XDG_CONFIG_HOME/batchsh on Linux, ~/Library/Application Support/batchsh
// on macOS, %APPDATA%\batchsh on Windows), or in the current directory.
// It is validated against an embedded CUE schema. BATCHSH_* environment
// variables override file values, e.g. BATCHSH_TARGET or
// BATCHSH_SERVER_LISTEN.
package config

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/invowk/batchsh/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "batchsh"
	// FileName is the config file name.
	FileName = "config.cue"
	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "BATCHSH"

	keyDelimiter = "::"
)

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific file when set.
	ConfigFilePath string
	// ConfigDirPath overrides the configuration directory when set.
	ConfigDirPath string
}

// Dir returns the batchsh configuration directory.
func Dir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// Load reads the configuration and returns it with the path of the file it
// came from ("" when only defaults and the environment were used).
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := newViper()

	path, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := mergeFile(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the values match the configuration schema").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Properties == nil {
		cfg.Properties = map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Check BATCHSH_* environment variables for typos").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	return cfg, path, nil
}

// newViper returns a viper instance holding the defaults and bound to the
// BATCHSH_ environment.
func newViper() *viper.Viper {
	// Property names contain dots, so nested keys use another delimiter.
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	d := DefaultConfig()
	v.SetDefault("target", d.Target)
	v.SetDefault("user", d.User)
	v.SetDefault("key_file", d.KeyFile)
	v.SetDefault("password_env", d.PasswordEnv)
	v.SetDefault("poll_delay_ms", d.PollDelayMs)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("properties", d.Properties)
	v.SetDefault("server"+keyDelimiter+"listen", d.Server.Listen)
	v.SetDefault("server"+keyDelimiter+"shell", d.Server.Shell)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()
	return v
}

// resolvePath picks the explicit file, the file in the configuration
// directory, or config.cue in the current directory, in that order.
func resolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'batchsh config path' to see where batchsh looks").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		d, err := Dir()
		if err != nil {
			return "", err
		}
		dir = d
	}
	for _, p := range []string{filepath.Join(dir, FileName), FileName} {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", nil
}

func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	m, err := decodeCUE(data, path)
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ToTOML renders cfg as TOML for display.
func ToTOML(cfg *Config) ([]byte, error) {
	out, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}

// GenerateCUE renders cfg in the config file format.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("// batchsh configuration\n\n")
	fmt.Fprintf(&sb, "target: %q\n", cfg.Target)
	if cfg.User != "" {
		fmt.Fprintf(&sb, "user: %q\n", cfg.User)
	}
	if cfg.KeyFile != "" {
		fmt.Fprintf(&sb, "key_file: %q\n", cfg.KeyFile)
	}
	if cfg.PasswordEnv != "" {
		fmt.Fprintf(&sb, "password_env: %q\n", cfg.PasswordEnv)
	}
	fmt.Fprintf(&sb, "poll_delay_ms: %d\n", cfg.PollDelayMs)
	fmt.Fprintf(&sb, "log_level: %q\n", cfg.LogLevel)

	if len(cfg.Properties) > 0 {
		sb.WriteString("\nproperties: {\n")
		for _, name := range slices.Sorted(maps.Keys(cfg.Properties)) {
			fmt.Fprintf(&sb, "\t%q: %q\n", name, cfg.Properties[name])
		}
		sb.WriteString("}\n")
	}

	sb.WriteString("\nserver: {\n")
	fmt.Fprintf(&sb, "\tlisten: %q\n", cfg.Server.Listen)
	fmt.Fprintf(&sb, "\tshell: %q\n", cfg.Server.Shell)
	sb.WriteString("}\n")
	return sb.String()
}

// CreateDefault writes the default configuration to dir unless a file is
// already there, and returns the file path.
func CreateDefault(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if fileExists(path) {
		return path, nil
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}
