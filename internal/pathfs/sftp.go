// SPDX-License-Identifier: MPL-2.0

package pathfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/invowk/batchsh/internal/credential"
	"github.com/invowk/batchsh/internal/logging"
	"github.com/invowk/batchsh/internal/sshconn"
	"github.com/invowk/batchsh/pkg/types"
)

// SFTP is the file system of a remote host reached over its own SSH
// connection.
type SFTP struct {
	conn   *ssh.Client
	client *sftp.Client
	entry  string
	logger *log.Logger

	closeOnce sync.Once
	closeErr  error
}

func dialSFTP(location types.Location, cred credential.Credential, opts sshconn.Options, logger *log.Logger) (*SFTP, error) {
	conn, err := sshconn.Dial(context.Background(), location, cred, opts)
	if err != nil {
		return nil, err
	}
	fsys, err := NewSFTP(conn, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Debug("sftp file system created", "location", location, "entry", fsys.entry)
	return fsys, nil
}

// NewSFTP starts an sftp session on conn. The SFTP owns conn from then on.
func NewSFTP(conn *ssh.Client, logger *log.Logger) (*SFTP, error) {
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp session: %w", err)
	}
	entry, err := client.Getwd()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to determine remote working directory: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &SFTP{conn: conn, client: client, entry: entry, logger: logger}, nil
}

// EntryPath returns the remote working directory, usually the home directory.
func (s *SFTP) EntryPath() string { return s.entry }

// Exists reports whether p exists on the remote host.
func (s *SFTP) Exists(_ context.Context, p string) (bool, error) {
	_, err := s.client.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
}

// Close ends the sftp session and the SSH connection.
func (s *SFTP) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.client.Close(), ignoreClosed(s.conn.Close()))
		s.logger.Debug("sftp file system closed")
	})
	return s.closeErr
}

// ignoreClosed drops the error of closing a connection the sftp client
// already tore down.
func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
