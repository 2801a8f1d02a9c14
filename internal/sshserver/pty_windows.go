// SPDX-License-Identifier: MPL-2.0

//go:build windows

package sshserver

import (
	"errors"
	"os"
	"os/exec"

	"github.com/charmbracelet/ssh"
)

var errNoPty = errors.New("pseudo-terminals are not supported on windows")

// startPty always fails on Windows.
func startPty(*exec.Cmd, int, int) (*os.File, error) { return nil, errNoPty }

// setWinsize is a no-op on Windows.
func setWinsize(*os.File, int, int) {}

// signalExit never applies on Windows.
func signalExit(*os.ProcessState) (int, bool) { return 0, false }

// osSignal maps every signal to Kill, the only one Windows delivers.
func osSignal(ssh.Signal) os.Signal { return os.Kill }
