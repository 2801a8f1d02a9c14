// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package sshserver

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/charmbracelet/ssh"
	"github.com/creack/pty"
)

// startPty starts cmd attached to a new pseudo-terminal of the given size.
func startPty(cmd *exec.Cmd, width, height int) (*os.File, error) {
	return pty.StartWithSize(cmd, winsize(width, height))
}

// setWinsize resizes the pseudo-terminal.
func setWinsize(f *os.File, width, height int) {
	_ = pty.Setsize(f, winsize(width, height))
}

func winsize(width, height int) *pty.Winsize {
	return &pty.Winsize{Cols: uint16(width), Rows: uint16(height)} //nolint:gosec // terminal sizes fit
}

// signalExit reports 128+signal for processes killed by a signal.
func signalExit(state *os.ProcessState) (int, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return 128 + int(ws.Signal()), true
}

var sshSignals = map[ssh.Signal]syscall.Signal{
	ssh.SIGABRT: syscall.SIGABRT,
	ssh.SIGALRM: syscall.SIGALRM,
	ssh.SIGFPE:  syscall.SIGFPE,
	ssh.SIGHUP:  syscall.SIGHUP,
	ssh.SIGILL:  syscall.SIGILL,
	ssh.SIGINT:  syscall.SIGINT,
	ssh.SIGPIPE: syscall.SIGPIPE,
	ssh.SIGQUIT: syscall.SIGQUIT,
	ssh.SIGSEGV: syscall.SIGSEGV,
	ssh.SIGTERM: syscall.SIGTERM,
	ssh.SIGUSR1: syscall.SIGUSR1,
	ssh.SIGUSR2: syscall.SIGUSR2,
}

// osSignal maps an SSH signal name, defaulting to SIGTERM.
func osSignal(sig ssh.Signal) os.Signal {
	if s, ok := sshSignals[sig]; ok {
		return s
	}
	return syscall.SIGTERM
}
