// SPDX-License-Identifier: MPL-2.0

// Package job defines the values exchanged between scheduler adaptors, the
// scripting facade and execution substrates: job identifiers, job
// descriptions, point-in-time job statuses and the live streams of an
// interactive job.
package job
