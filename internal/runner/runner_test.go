// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/invowk/batchsh/internal/substrate"
	"github.com/invowk/batchsh/internal/substrate/substratetest"
	"github.com/invowk/batchsh/internal/testutil"
	"github.com/invowk/batchsh/pkg/job"
)

func TestResult_Success(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result Result
		want   bool
	}{
		{name: "clean", result: Result{ExitCode: 0, Stdout: "ok"}, want: true},
		{name: "non-zero exit", result: Result{ExitCode: 1}, want: false},
		{name: "stderr output", result: Result{ExitCode: 0, Stderr: "warning"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.result.Success(); got != tt.want {
				t.Errorf("Success() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStart_CapturesOutcome(t *testing.T) {
	t.Parallel()

	sub := substratetest.New(func(desc job.Description, stdin string) substratetest.Outcome {
		return substratetest.Outcome{
			Stdout:   strings.ToUpper(stdin),
			Stderr:   strings.Join(desc.Arguments, ","),
			ExitCode: 3,
		}
	})

	r, err := Start(t.Context(), sub, "slurm", "payload", "sbatch", "-p", "short")
	if err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	res, err := r.Result()
	if err != nil {
		t.Fatalf("Result() unexpected error: %v", err)
	}
	if res.Stdout != "PAYLOAD" || res.Stderr != "-p,short" || res.ExitCode != 3 {
		t.Errorf("Result() = %+v", res)
	}
	if res.Success() {
		t.Error("Success() should be false")
	}

	subs := sub.Submissions()
	if len(subs) != 1 {
		t.Fatalf("submissions = %d, want 1", len(subs))
	}
	if subs[0].Description.Queue != job.UnlimitedQueue {
		t.Errorf("queue = %q, want unlimited", subs[0].Description.Queue)
	}
	if r.Identifier() != subs[0].Identifier {
		t.Errorf("Identifier() = %q, want %q", r.Identifier(), subs[0].Identifier)
	}
	if r.Target() != "local:///" {
		t.Errorf("Target() = %q", r.Target())
	}
}

func TestResult_MemoizedAndConcurrent(t *testing.T) {
	t.Parallel()

	sub := substratetest.New(substratetest.Reply(substratetest.Outcome{Stdout: "once"}))
	r, err := Start(t.Context(), sub, "test", "", "echo")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = r.Result()
		}()
	}
	wg.Wait()

	for i, res := range results {
		if res != results[0] {
			t.Errorf("result %d = %+v, want %+v", i, res, results[0])
		}
	}
	if len(sub.Submissions()) != 1 {
		t.Errorf("command ran %d times, want once", len(sub.Submissions()))
	}
}

func TestResult_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("transport lost")

	tests := []struct {
		name    string
		outcome substratetest.Outcome
		wantErr error
	}{
		{name: "status error", outcome: substratetest.Outcome{Err: boom}, wantErr: boom},
		{name: "no exit code", outcome: substratetest.Outcome{NoExitCode: true}, wantErr: ErrNoExitCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sub := substratetest.New(substratetest.Reply(tt.outcome))
			r, err := Start(t.Context(), sub, "test", "", "x")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := r.Result(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Result() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStart_SubmitError(t *testing.T) {
	t.Parallel()

	sub := substratetest.New(nil)
	sub.SubmitErr = job.NewNoSuchQueueError("x")
	if _, err := Start(t.Context(), sub, "test", "", "x"); !errors.Is(err, job.ErrNoSuchQueue) {
		t.Fatalf("Start() error = %v, want ErrNoSuchQueue", err)
	}
}

func TestStart_LocalSubstrate(t *testing.T) {
	t.Parallel()
	testutil.RequireShell(t)

	sub, err := substrate.Create(substrate.SchemeLocal, "local", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer testutil.MustClose(t, sub)

	r, err := Start(t.Context(), sub, "test", "a\nb\n", "wc", "-l")
	if err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	res, err := r.Result()
	if err != nil {
		t.Fatalf("Result() unexpected error: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "2" || !res.Success() {
		t.Errorf("Result() = %+v, want 2 lines counted", res)
	}
	if !strings.Contains(r.String(), "exit=0") {
		t.Errorf("String() = %q", r.String())
	}
}
