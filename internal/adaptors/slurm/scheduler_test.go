// SPDX-License-Identifier: MPL-2.0

package slurm

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/invowk/batchsh/internal/clock"
	"github.com/invowk/batchsh/internal/credential"
	"github.com/invowk/batchsh/internal/pathfs"
	"github.com/invowk/batchsh/internal/props"
	"github.com/invowk/batchsh/internal/scripting"
	"github.com/invowk/batchsh/internal/substrate"
	"github.com/invowk/batchsh/internal/substrate/substratetest"
	"github.com/invowk/batchsh/pkg/job"
	"github.com/invowk/batchsh/pkg/types"
)

// fakeCluster answers the Slurm tools the adaptor runs. Every squeue call
// consumes the next queued state of a job; once none are left the job has
// left the queue and only sacct knows it.
type fakeCluster struct {
	partitions string
	// progression is given to every submitted job.
	progression []string
	// final is the sacct "State|ExitCode" of every submitted job.
	final string

	mu      sync.Mutex
	next    int
	queue   map[string][]string
	acct    map[string]string
	scripts []string
	calls   []string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		partitions:  "debug\nbatch*\ngpu\n",
		progression: []string{"PENDING", "RUNNING"},
		final:       "COMPLETED|0:0",
		queue:       map[string][]string{},
		acct:        map[string]string{},
	}
}

func (c *fakeCluster) handle(desc job.Description, stdin string) substratetest.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, desc.Executable)

	switch desc.Executable {
	case "sinfo":
		return substratetest.Outcome{Stdout: c.partitions}

	case "sbatch":
		c.next++
		id := fmt.Sprint(1000 + c.next)
		c.queue[id] = slices.Clone(c.progression)
		c.acct[id] = c.final
		c.scripts = append(c.scripts, stdin)
		return substratetest.Outcome{Stdout: "Submitted batch job " + id + "\n"}

	case "squeue":
		id := strings.TrimPrefix(desc.Arguments[len(desc.Arguments)-1], "--jobs=")
		states, ok := c.queue[id]
		if !ok || len(states) == 0 {
			return substratetest.Outcome{ExitCode: 1, Stderr: "slurm_load_jobs error: Invalid job id specified\n"}
		}
		c.queue[id] = states[1:]
		return substratetest.Outcome{Stdout: id + "|" + states[0] + "\n"}

	case "sacct":
		id := desc.Arguments[len(desc.Arguments)-1]
		if rec, ok := c.acct[id]; ok {
			return substratetest.Outcome{Stdout: id + "|" + rec + "\n"}
		}
		return substratetest.Outcome{}

	case "scancel":
		id := desc.Arguments[0]
		if _, ok := c.acct[id]; !ok {
			return substratetest.Outcome{ExitCode: 1, Stderr: "scancel: error: Kill job error on job id " + id + ": Invalid job id specified\n"}
		}
		delete(c.queue, id)
		c.acct[id] = "CANCELLED by 1000|0:15"
		return substratetest.Outcome{}
	}
	return substratetest.Outcome{ExitCode: 127, Stderr: desc.Executable + ": command not found\n"}
}

func (c *fakeCluster) callCount(exe string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call == exe {
			n++
		}
	}
	return n
}

func newTestScheduler(t *testing.T, cluster *fakeCluster, properties map[string]string) *Scheduler {
	t.Helper()

	mem := afero.NewMemMapFs()
	_ = mem.MkdirAll("/home/alice/jobs", 0o755)
	clk := clock.NewFakeClock(time.Time{})
	clk.SetAutoAdvance(true)
	fake := substratetest.New(cluster.handle)

	s, err := New("local", credential.Default{User: "alice"}, properties,
		scripting.WithClock(clk),
		scripting.WithSubstrateFactory(func(string, types.Location, credential.Credential, map[string]string) (substrate.Substrate, error) {
			return fake, nil
		}),
		scripting.WithFileSystemFactory(func(string, types.Location, credential.Credential, map[string]string) (pathfs.FileSystem, error) {
			return pathfs.NewFile(mem, "/home/alice"), nil
		}),
	)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_Properties(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, newFakeCluster(), map[string]string{PollDelayProperty: "250"})
	if got := s.Core().PollDelay(); got != 250*time.Millisecond {
		t.Errorf("PollDelay() = %v, want 250ms", got)
	}
	if !s.Core().SupportsBatch() || s.Core().SupportsInteractive() {
		t.Error("slurm must support batch jobs only")
	}

	_, err := New("local", credential.Default{}, map[string]string{"batchsh.slurm.bogus": "1"})
	if !errors.Is(err, scripting.ErrConstruction) || !errors.Is(err, props.ErrUnknownProperty) {
		t.Errorf("New() with unknown property error = %v, want construction error", err)
	}
}

func TestScheduler_QueueNames(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, newFakeCluster(), nil)
	names, err := s.QueueNames(t.Context())
	if err != nil {
		t.Fatalf("QueueNames() unexpected error: %v", err)
	}
	if want := []string{"debug", "batch", "gpu"}; !slices.Equal(names, want) {
		t.Errorf("QueueNames() = %v, want %v", names, want)
	}
	def, err := s.DefaultQueueName(t.Context())
	if err != nil || def != "batch" {
		t.Errorf("DefaultQueueName() = %q, %v, want batch", def, err)
	}
}

func TestScheduler_Submit(t *testing.T) {
	t.Parallel()

	cluster := newFakeCluster()
	s := newTestScheduler(t, cluster, nil)

	id, err := s.Submit(t.Context(), job.Description{
		Queue:            "gpu",
		Executable:       "nvidia-smi",
		WorkingDirectory: "jobs",
	})
	if err != nil {
		t.Fatalf("Submit() unexpected error: %v", err)
	}
	if id != "1001" {
		t.Errorf("Submit() = %q, want 1001", id)
	}
	if len(cluster.scripts) != 1 || !strings.Contains(cluster.scripts[0], "#SBATCH --partition=gpu") {
		t.Errorf("sbatch stdin = %q, want generated script", cluster.scripts)
	}
}

func TestScheduler_SubmitRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		desc    job.Description
		wantErr error
	}{
		{name: "unknown queue", desc: job.Description{Queue: "bigmem", Executable: "x"}, wantErr: job.ErrNoSuchQueue},
		{name: "missing directory", desc: job.Description{Executable: "x", WorkingDirectory: "nope"}, wantErr: scripting.ErrInvalidWorkingDirectory},
		{name: "invalid description", desc: job.Description{Queue: "batch"}, wantErr: job.ErrInvalidDescription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cluster := newFakeCluster()
			s := newTestScheduler(t, cluster, nil)
			if _, err := s.Submit(t.Context(), tt.desc); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Submit() error = %v, want %v", err, tt.wantErr)
			}
			if n := cluster.callCount("sbatch"); n != 0 {
				t.Errorf("sbatch ran %d times, want 0", n)
			}
		})
	}
}

func TestScheduler_SubmitFailsOnStderr(t *testing.T) {
	t.Parallel()

	reply := substratetest.Reply(substratetest.Outcome{
		Stdout: "Submitted batch job 7\n",
		Stderr: "sbatch: warning: can't honor --ntasks-per-node\n",
	})
	s, err := New("local", credential.Default{}, nil,
		scripting.WithSubstrateFactory(func(string, types.Location, credential.Credential, map[string]string) (substrate.Substrate, error) {
			return substratetest.New(reply), nil
		}),
		scripting.WithFileSystemFactory(func(string, types.Location, credential.Credential, map[string]string) (pathfs.FileSystem, error) {
			return pathfs.NewFile(afero.NewMemMapFs(), "/"), nil
		}),
	)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	defer func() { _ = s.Close() }()

	// The unlimited queue skips sinfo, so sbatch is the only command.
	_, err = s.Submit(t.Context(), job.Description{Queue: job.UnlimitedQueue, Executable: "x"})
	var ee *scripting.ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("Submit() error = %v, want *scripting.ExecutionError", err)
	}
	if ee.Executable != "sbatch" || !strings.Contains(ee.Stderr, "warning") || !strings.Contains(ee.Stdin, "#SBATCH") {
		t.Errorf("ExecutionError = %+v, want sbatch with stderr and script", ee)
	}
}

func TestScheduler_JobStatus(t *testing.T) {
	t.Parallel()

	cluster := newFakeCluster()
	cluster.progression = []string{"RUNNING"}
	cluster.final = "FAILED|2:0"
	s := newTestScheduler(t, cluster, nil)

	id, err := s.Submit(t.Context(), job.Description{Executable: "false"})
	if err != nil {
		t.Fatalf("Submit() unexpected error: %v", err)
	}

	st, err := s.JobStatus(t.Context(), id)
	if err != nil || !st.IsRunning() {
		t.Fatalf("first JobStatus() = %v, %v, want running", st, err)
	}

	st, err = s.JobStatus(t.Context(), id)
	if err != nil {
		t.Fatalf("second JobStatus() unexpected error: %v", err)
	}
	if !st.IsDone() || st.ExitCode == nil || *st.ExitCode != 2 || !errors.Is(st.Err, ErrJobFailed) {
		t.Errorf("second JobStatus() = %v, want failed with exit 2 from accounting", st)
	}
	if n := cluster.callCount("sacct"); n != 1 {
		t.Errorf("sacct ran %d times, want 1", n)
	}
}

func TestScheduler_JobStatusErrors(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, newFakeCluster(), nil)

	if _, err := s.JobStatus(t.Context(), "999"); !errors.Is(err, job.ErrNoSuchJob) {
		t.Errorf("JobStatus(unknown) error = %v, want ErrNoSuchJob", err)
	}
	if _, err := s.JobStatus(t.Context(), " "); !errors.Is(err, job.ErrInvalidIdentifier) {
		t.Errorf("JobStatus(blank) error = %v, want ErrInvalidIdentifier", err)
	}
}

func TestScheduler_Cancel(t *testing.T) {
	t.Parallel()

	cluster := newFakeCluster()
	s := newTestScheduler(t, cluster, nil)

	id, err := s.Submit(t.Context(), job.Description{Executable: "sleep", Arguments: []string{"600"}})
	if err != nil {
		t.Fatalf("Submit() unexpected error: %v", err)
	}

	st, err := s.Cancel(t.Context(), id)
	if err != nil {
		t.Fatalf("Cancel() unexpected error: %v", err)
	}
	if !st.IsDone() || st.State != "CANCELLED" || st.ExitCode == nil || *st.ExitCode != 143 {
		t.Errorf("Cancel() = %v, want cancelled with exit 143", st)
	}

	var ee *scripting.ExecutionError
	if _, err := s.Cancel(t.Context(), "31337"); !errors.As(err, &ee) || ee.ExitCode != 1 {
		t.Errorf("Cancel(unknown) error = %v, want scancel execution error", err)
	}
}

func TestScheduler_Wait(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		running     bool
		wantPhase   job.Phase
		wantQueries int
	}{
		// PENDING, RUNNING, then accounting.
		{name: "until done", wantPhase: job.PhaseDone, wantQueries: 3},
		{name: "until running", running: true, wantPhase: job.PhaseRunning, wantQueries: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cluster := newFakeCluster()
			s := newTestScheduler(t, cluster, map[string]string{PollDelayProperty: "10"})

			id, err := s.Submit(t.Context(), job.Description{Executable: "hostname"})
			if err != nil {
				t.Fatalf("Submit() unexpected error: %v", err)
			}

			var st job.Status
			if tt.running {
				st, err = s.WaitUntilRunning(t.Context(), id, time.Minute)
			} else {
				st, err = s.WaitUntilDone(t.Context(), id, 0)
			}
			if err != nil {
				t.Fatalf("wait unexpected error: %v", err)
			}
			if st.Phase() != tt.wantPhase {
				t.Errorf("wait = %v, want phase %s", st, tt.wantPhase)
			}
			if n := cluster.callCount("squeue"); n != tt.wantQueries {
				t.Errorf("squeue ran %d times, want %d", n, tt.wantQueries)
			}
		})
	}
}

func TestScheduler_WaitTimesOut(t *testing.T) {
	t.Parallel()

	cluster := newFakeCluster()
	cluster.progression = slices.Repeat([]string{"PENDING"}, 100)
	s := newTestScheduler(t, cluster, map[string]string{PollDelayProperty: "1000"})

	id, err := s.Submit(t.Context(), job.Description{Executable: "hostname"})
	if err != nil {
		t.Fatalf("Submit() unexpected error: %v", err)
	}

	st, err := s.WaitUntilDone(t.Context(), id, 3*time.Second)
	if err != nil {
		t.Fatalf("WaitUntilDone() unexpected error: %v", err)
	}
	if st.IsDone() || st.State != "PENDING" {
		t.Errorf("WaitUntilDone() = %v, want last pending status", st)
	}
	// 3 intervals fit the deadline: 4 queries.
	if n := cluster.callCount("squeue"); n != 4 {
		t.Errorf("squeue ran %d times, want 4", n)
	}
}
