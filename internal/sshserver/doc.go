// SPDX-License-Identifier: MPL-2.0

// Package sshserver provides a loopback SSH endpoint built on the Wish library.
//
// It executes commands through a shell, serves interactive PTY sessions and
// exposes the sftp subsystem, which is everything the ssh execution
// substrate and the sftp path resolver need from a remote host. Clients
// authenticate with a server-issued token as password or with an
// authorized public key.
package sshserver
