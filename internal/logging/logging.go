// SPDX-License-Identifier: MPL-2.0

// Package logging builds the charmbracelet loggers shared by batchsh components.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// DefaultLevel is used when no level is configured.
const DefaultLevel = log.WarnLevel

// New returns a logger writing to w at the named level.
// An empty level selects DefaultLevel.
func New(w io.Writer, level string) (*log.Logger, error) {
	lvl := DefaultLevel
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: lvl <= log.DebugLevel,
	}), nil
}

// Default returns a warn-level logger writing to stderr.
func Default() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: DefaultLevel})
}

// Discard returns a logger that drops every record.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// Component derives a prefixed child logger, falling back to Discard for a
// nil parent.
func Component(parent *log.Logger, name string) *log.Logger {
	if parent == nil {
		parent = Discard()
	}
	return parent.WithPrefix(name)
}
