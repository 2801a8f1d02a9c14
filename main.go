// SPDX-License-Identifier: MPL-2.0

// Command batchsh drives batch schedulers over local and SSH shells.
package main

import cmd "github.com/invowk/batchsh/cmd/batchsh"

func main() {
	cmd.Execute()
}
