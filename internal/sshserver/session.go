// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/pkg/sftp"
)

// stdinGrace bounds how long a finished command waits for a client that
// never closes stdin.
const stdinGrace = 2 * time.Second

// commandMiddleware runs exec requests through the shell and serves
// interactive sessions.
func (s *Server) commandMiddleware() wish.Middleware {
	return func(_ ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			if sess.RawCommand() == "" {
				s.runInteractiveShell(sess)
				return
			}
			s.runCommand(sess)
		}
	}
}

// runCommand executes the raw command line with "<shell> -c", the same way
// sshd does.
func (s *Server) runCommand(sess ssh.Session) {
	cmd := exec.CommandContext(sess.Context(), s.cfg.DefaultShell, "-c", sess.RawCommand()) //nolint:gosec // executing client commands is the purpose
	cmd.Env = append(os.Environ(), sess.Environ()...)
	cmd.Stdin = sess
	cmd.Stdout = sess
	cmd.Stderr = sess.Stderr()
	cmd.WaitDelay = stdinGrace

	s.logger.Debug("exec", "user", sess.User(), "command", sess.RawCommand())

	if err := cmd.Start(); err != nil {
		_, _ = fmt.Fprintf(sess.Stderr(), "Error: %v\n", err)
		_ = sess.Exit(127)
		return
	}

	stop := forwardSignals(sess, cmd)
	defer stop()

	_ = sess.Exit(exitStatus(cmd.Wait(), cmd.ProcessState))
}

// runInteractiveShell starts the shell on a pseudo-terminal.
func (s *Server) runInteractiveShell(sess ssh.Session) {
	ptyReq, winCh, isPty := sess.Pty()
	if !isPty {
		_, _ = fmt.Fprintln(sess.Stderr(), "Error: interactive sessions require a terminal")
		_ = sess.Exit(1)
		return
	}

	cmd := exec.CommandContext(sess.Context(), s.cfg.DefaultShell) //nolint:gosec // login shell of the endpoint
	cmd.Env = append(os.Environ(), sess.Environ()...)
	cmd.Env = append(cmd.Env, "TERM="+ptyReq.Term)

	f, err := startPty(cmd, ptyReq.Window.Width, ptyReq.Window.Height)
	if err != nil {
		_, _ = fmt.Fprintf(sess.Stderr(), "Error starting shell: %v\n", err)
		_ = sess.Exit(1)
		return
	}
	defer func() { _ = f.Close() }()

	go func() {
		for win := range winCh {
			setWinsize(f, win.Width, win.Height)
		}
	}()

	go func() { _, _ = io.Copy(f, sess) }()
	_, _ = io.Copy(sess, f)

	_ = sess.Exit(exitStatus(cmd.Wait(), cmd.ProcessState))
}

// sftpHandler serves the sftp subsystem rooted at the server's working
// directory.
func (s *Server) sftpHandler(sess ssh.Session) {
	srv, err := sftp.NewServer(sess)
	if err != nil {
		s.logger.Error("sftp server init failed", "error", err)
		_ = sess.Exit(1)
		return
	}
	defer func() { _ = srv.Close() }()

	if err := srv.Serve(); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("sftp session ended", "error", err)
	}
	_ = sess.Exit(0)
}

// forwardSignals delivers client signals to the process until stop is called.
func forwardSignals(sess ssh.Session, cmd *exec.Cmd) (stop func()) {
	sigs := make(chan ssh.Signal, 1)
	done := make(chan struct{})
	sess.Signals(sigs)

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				if cmd.Process == nil {
					continue
				}
				if sig == ssh.SIGKILL {
					_ = cmd.Process.Kill()
					continue
				}
				_ = cmd.Process.Signal(osSignal(sig))
			}
		}
	}()

	return func() {
		sess.Signals(nil)
		close(done)
	}
}

// exitStatus maps the outcome of exec.Cmd.Wait to an SSH exit status.
// A process killed by a signal reports 128 plus the signal number.
func exitStatus(err error, state *os.ProcessState) int {
	if state != nil {
		if code, ok := signalExit(state); ok {
			return code
		}
		if code := state.ExitCode(); code >= 0 && (err == nil || errors.Is(err, exec.ErrWaitDelay) || isExitError(err)) {
			return code
		}
	}
	if err == nil {
		return 0
	}
	return 255
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
