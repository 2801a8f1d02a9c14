// SPDX-License-Identifier: MPL-2.0

package slurm

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/invowk/batchsh/pkg/job"
	"github.com/invowk/batchsh/pkg/types"
)

var (
	// ErrUnexpectedOutput is the sentinel error wrapped by UnexpectedOutputError.
	ErrUnexpectedOutput = errors.New("unexpected slurm output")

	// ErrJobFailed is carried by the status of a job that ended in a state
	// other than COMPLETED.
	ErrJobFailed = errors.New("job failed")

	submitPattern   = regexp.MustCompile(`^Submitted batch job (\d+)`)
	parsablePattern = regexp.MustCompile(`^(\d+)(;\S+)?$`)
)

type (
	// UnexpectedOutputError is returned when a Slurm tool printed something
	// the parsers do not understand.
	UnexpectedOutputError struct {
		Command string
		Output  string
		Reason  string
	}

	// JobFailedError is the status error of a job that did not complete.
	JobFailedError struct {
		State    string
		ExitCode types.ExitCode
	}

	// AccountingRecord is one line of sacct output.
	AccountingRecord struct {
		Identifier job.Identifier
		State      string
		ExitCode   types.ExitCode
	}
)

// Error implements the error interface.
func (e *UnexpectedOutputError) Error() string {
	return fmt.Sprintf("cannot parse %s output %q: %s", e.Command, e.Output, e.Reason)
}

// Unwrap returns ErrUnexpectedOutput for errors.Is() compatibility.
func (e *UnexpectedOutputError) Unwrap() error { return ErrUnexpectedOutput }

// Error implements the error interface.
func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job ended in state %s with exit code %s", e.State, e.ExitCode)
}

// Unwrap returns ErrJobFailed for errors.Is() compatibility.
func (e *JobFailedError) Unwrap() error { return ErrJobFailed }

// Job state groups, see squeue(1) JOB STATE CODES.
var (
	pendingStates = []string{
		"PENDING", "CONFIGURING", "REQUEUED", "REQUEUE_FED", "REQUEUE_HOLD",
		"RESV_DEL_HOLD", "RESIZING", "SUSPENDED", "STOPPED",
	}
	runningStates = []string{"RUNNING", "COMPLETING", "SIGNALING", "STAGE_OUT"}
	doneStates    = []string{
		"COMPLETED", "CANCELLED", "FAILED", "TIMEOUT", "NODE_FAIL", "PREEMPTED",
		"BOOT_FAIL", "DEADLINE", "OUT_OF_MEMORY", "SPECIAL_EXIT", "REVOKED",
	}
)

// ParseSubmitOutput extracts the job id from sbatch output, either
// "Submitted batch job 42" or the --parsable form "42[;cluster]".
func ParseSubmitOutput(out string) (job.Identifier, error) {
	line := strings.TrimSpace(out)
	if m := submitPattern.FindStringSubmatch(line); m != nil {
		return job.Identifier(m[1]), nil
	}
	if m := parsablePattern.FindStringSubmatch(line); m != nil {
		return job.Identifier(m[1]), nil
	}
	return "", &UnexpectedOutputError{Command: "sbatch", Output: out, Reason: "no job id found"}
}

// ParseQueueNames parses `sinfo --noheader --format=%P` output. The default
// partition is marked with a trailing "*" by sinfo; it is returned
// separately and unmarked in the list.
func ParseQueueNames(out string) (names []string, defaultQueue string) {
	for _, line := range lines(out) {
		name := line
		if strings.HasSuffix(name, "*") {
			name = strings.TrimSuffix(name, "*")
			if defaultQueue == "" {
				defaultQueue = name
			}
		}
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names, defaultQueue
}

// ParseJobState finds id in `squeue --noheader --format=%i|%T` output.
func ParseJobState(out string, id job.Identifier) (state string, found bool, err error) {
	for _, line := range lines(out) {
		fields := strings.Split(line, "|")
		if len(fields) != 2 {
			return "", false, &UnexpectedOutputError{Command: "squeue", Output: out, Reason: "expected 2 fields per line"}
		}
		if fields[0] == string(id) {
			return normalizeState(fields[1]), true, nil
		}
	}
	return "", false, nil
}

// ParseAccountingRecord finds id in `sacct -X -n -P -o JobID,State,ExitCode`
// output. A job killed by a signal gets exit code 128+signal.
func ParseAccountingRecord(out string, id job.Identifier) (AccountingRecord, bool, error) {
	for _, line := range lines(out) {
		fields := strings.Split(line, "|")
		if len(fields) != 3 {
			return AccountingRecord{}, false, &UnexpectedOutputError{Command: "sacct", Output: out, Reason: "expected 3 fields per line"}
		}
		if fields[0] != string(id) {
			continue
		}
		code, err := parseExitCode(fields[2])
		if err != nil {
			return AccountingRecord{}, false, &UnexpectedOutputError{Command: "sacct", Output: out, Reason: err.Error()}
		}
		return AccountingRecord{Identifier: id, State: normalizeState(fields[1]), ExitCode: code}, true, nil
	}
	return AccountingRecord{}, false, nil
}

// parseExitCode parses Slurm's "code:signal" notation.
func parseExitCode(s string) (types.ExitCode, error) {
	codeStr, sigStr, _ := strings.Cut(strings.TrimSpace(s), ":")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return 0, fmt.Errorf("invalid exit code %q", s)
	}
	if sigStr != "" {
		sig, err := strconv.Atoi(sigStr)
		if err != nil {
			return 0, fmt.Errorf("invalid exit signal %q", s)
		}
		if sig > 0 {
			return types.ExitCode(128 + sig), nil
		}
	}
	return types.ExitCode(code), nil
}

// MapState converts a Slurm state into a job status. exitCode may be nil
// when the state comes from squeue.
func MapState(id job.Identifier, state string, exitCode *types.ExitCode) job.Status {
	state = normalizeState(state)
	info := map[string]string{"state": state}

	var st job.Status
	switch {
	case slices.Contains(pendingStates, state):
		st = job.PendingStatus(id, state)
	case slices.Contains(runningStates, state):
		st = job.RunningStatus(id, state)
	case slices.Contains(doneStates, state):
		var code types.ExitCode
		if exitCode != nil {
			code = *exitCode
		}
		var err error
		if state != "COMPLETED" {
			err = &JobFailedError{State: state, ExitCode: code}
		}
		st = job.DoneStatus(id, state, code, err)
		if exitCode == nil {
			st.ExitCode = nil
		}
	default:
		// An unknown state is reported as finished so waits end.
		st = job.DoneStatus(id, state, 0, &UnexpectedOutputError{Command: "squeue", Output: state, Reason: "unknown job state"})
		st.ExitCode = nil
	}
	st.Info = info
	return st
}

// normalizeState strips qualifiers such as "CANCELLED by 1000" or "RUNNING+".
func normalizeState(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " +"); i >= 0 {
		s = s[:i]
	}
	return strings.ToUpper(s)
}

// lines returns the trimmed non-empty lines of out.
func lines(out string) []string {
	var result []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			result = append(result, line)
		}
	}
	return result
}
