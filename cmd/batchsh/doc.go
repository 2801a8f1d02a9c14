// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the batchsh command line.
//
// The commands drive a Slurm cluster through the scripting core, run
// one-off checked commands on the configured target, validate queues and
// working directories, and host a loopback SSH endpoint for tests and
// demos.
package cmd
