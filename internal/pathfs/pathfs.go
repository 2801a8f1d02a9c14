// SPDX-License-Identifier: MPL-2.0

// Package pathfs resolves and checks paths on the host that scheduler
// commands run on.
package pathfs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/invowk/batchsh/internal/credential"
	"github.com/invowk/batchsh/internal/logging"
	"github.com/invowk/batchsh/internal/sshconn"
	"github.com/invowk/batchsh/pkg/types"
)

// Schemes.
const (
	SchemeFile = "file"
	SchemeSFTP = "sftp"
)

// ErrUnknownScheme is returned by Create for an unsupported scheme.
var ErrUnknownScheme = errors.New("unknown file system scheme")

type (
	// FileSystem answers path questions about one host.
	FileSystem interface {
		// EntryPath is the directory relative paths are resolved against.
		EntryPath() string
		// Exists reports whether path exists. A missing path is not an error.
		Exists(ctx context.Context, path string) (bool, error)
		// Close releases the connection, if any.
		Close() error
	}

	// Option configures a file system.
	Option func(*options)

	options struct {
		logger *log.Logger
		fs     afero.Fs
	}
)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFs replaces the OS file system of the file scheme.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// Resolve joins rel onto root with POSIX semantics. An absolute rel is
// returned cleaned and root is ignored.
func Resolve(root, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return path.Clean(rel)
	}
	return path.Join(root, rel)
}

// Create returns a file system for scheme bound to location. For sftp,
// values may carry the "batchsh.ssh." connection properties.
func Create(
	scheme string,
	location types.Location,
	cred credential.Credential,
	values map[string]string,
	opts ...Option,
) (FileSystem, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.Component(o.logger, "pathfs")

	switch scheme {
	case SchemeFile:
		if o.fs == nil {
			o.fs = afero.NewOsFs()
		}
		return newFile(o.fs, o.logger)
	case SchemeSFTP:
		connOpts, err := sshconn.ParseOptions(values)
		if err != nil {
			return nil, err
		}
		return dialSFTP(location, cred, connOpts, o.logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}
