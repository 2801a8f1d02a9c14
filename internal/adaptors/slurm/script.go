// SPDX-License-Identifier: MPL-2.0

package slurm

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/invowk/batchsh/pkg/job"
)

// DefaultJobName is used when a description carries no name.
const DefaultJobName = "batchsh"

// GenerateScript renders desc as an sbatch script. The unlimited queue and
// the empty queue leave the partition to Slurm.
func GenerateScript(desc job.Description) (string, error) {
	if err := desc.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")

	name := desc.Name
	if name == "" {
		name = DefaultJobName
	}
	directives := []struct{ flag, value string }{
		{"--job-name", name},
		{"--output", "/dev/null"},
	}
	if desc.Queue != "" && desc.Queue != job.UnlimitedQueue {
		directives = append(directives, struct{ flag, value string }{"--partition", desc.Queue})
	}
	if desc.WorkingDirectory != "" {
		directives = append(directives, struct{ flag, value string }{"--chdir", desc.WorkingDirectory})
	}
	if desc.Tasks > 0 {
		directives = append(directives, struct{ flag, value string }{"--ntasks", fmt.Sprint(desc.Tasks)})
	}
	if desc.MaxRuntimeMinutes > 0 {
		directives = append(directives, struct{ flag, value string }{"--time", fmt.Sprint(desc.MaxRuntimeMinutes)})
	}
	for _, d := range directives {
		if strings.ContainsAny(d.value, "\r\n") {
			return "", &job.InvalidDescriptionError{Reason: fmt.Sprintf("%s value %q must be single-line", d.flag, d.value)}
		}
		fmt.Fprintf(&b, "#SBATCH %s=%s\n", d.flag, d.value)
	}
	b.WriteString("\n")

	for _, k := range slices.Sorted(maps.Keys(desc.Environment)) {
		if !syntax.ValidName(k) {
			return "", &job.InvalidDescriptionError{Reason: fmt.Sprintf("environment variable name %q is invalid", k)}
		}
		v, err := syntax.Quote(desc.Environment[k], syntax.LangPOSIX)
		if err != nil {
			return "", &job.InvalidDescriptionError{Reason: fmt.Sprintf("environment variable %s: %v", k, err)}
		}
		fmt.Fprintf(&b, "export %s=%s\n", k, v)
	}

	words := make([]string, 0, 1+len(desc.Arguments))
	for _, w := range desc.CommandLine() {
		q, err := syntax.Quote(w, syntax.LangPOSIX)
		if err != nil {
			return "", &job.InvalidDescriptionError{Reason: fmt.Sprintf("argument %q: %v", w, err)}
		}
		words = append(words, q)
	}
	b.WriteString(strings.Join(words, " "))
	b.WriteString("\n")
	return b.String(), nil
}
