// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent cleanup.
//
// Besides the Must* helpers it starts loopback SSH endpoints
// (StartSSHServer) so SSH-backed components can be tested without a real
// remote host, and bounds Docker-backed tests (ContainerSemaphore).
package testutil
