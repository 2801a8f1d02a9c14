// SPDX-License-Identifier: MPL-2.0

package pathfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
)

// File is the file system of the local host.
type File struct {
	fs    afero.Fs
	entry string
}

func newFile(fs afero.Fs, logger *log.Logger) (*File, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}
	entry := filepath.ToSlash(wd)
	logger.Debug("file system created", "entry", entry)
	return &File{fs: fs, entry: entry}, nil
}

// NewFile returns a local file system over fs with the given entry path.
func NewFile(fs afero.Fs, entry string) *File {
	return &File{fs: fs, entry: entry}
}

// EntryPath returns the process working directory.
func (f *File) EntryPath() string { return f.entry }

// Exists reports whether p exists.
func (f *File) Exists(_ context.Context, p string) (bool, error) {
	ok, err := afero.Exists(f.fs, filepath.FromSlash(p))
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return ok, nil
}

// Close is a no-op.
func (f *File) Close() error { return nil }
