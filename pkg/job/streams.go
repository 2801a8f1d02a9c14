// SPDX-License-Identifier: MPL-2.0

package job

import "io"

// Streams are the live standard streams of an interactive job. The process
// lifetime belongs to the substrate that produced them.
type Streams struct {
	// Identifier is the job the streams are attached to.
	Identifier Identifier
	// Stdin feeds the process; closing it signals end of input.
	Stdin io.WriteCloser
	// Stdout yields the process standard output until EOF.
	Stdout io.Reader
	// Stderr yields the process standard error until EOF.
	Stderr io.Reader
}
