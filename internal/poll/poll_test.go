// SPDX-License-Identifier: MPL-2.0

package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/invowk/batchsh/internal/clock"
)

func TestDeadline(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Time
		wantErr bool
	}{
		{name: "zero is unbounded", timeout: 0, want: time.Time{}},
		{name: "positive", timeout: time.Minute, want: now.Add(time.Minute)},
		{name: "negative", timeout: -time.Millisecond, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Deadline(now, tt.timeout)
			if tt.wantErr {
				if !errors.Is(err, ErrNegativeTimeout) {
					t.Fatalf("Deadline() error = %v, want ErrNegativeTimeout", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Deadline() unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Deadline() = %v, want %v", got, tt.want)
			}
		})
	}
}

// countdown returns a query that reports false until it has been called
// n+1 times.
func countdown(n int) (func(context.Context) (bool, error), *int) {
	calls := 0
	return func(context.Context) (bool, error) {
		calls++
		return calls > n, nil
	}, &calls
}

func identity(b bool) bool { return b }

func TestUntil_QueriesOncePerElapsedInterval(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 4, 10} {
		clk := clock.NewFakeClock(time.Time{})
		clk.SetAutoAdvance(true)
		query, calls := countdown(n)

		got, err := Until(context.Background(), clk, time.Second, time.Time{}, query, identity)
		if err != nil {
			t.Fatalf("n=%d: Until() unexpected error: %v", n, err)
		}
		if !got {
			t.Errorf("n=%d: Until() returned unsatisfied state", n)
		}
		if *calls != n+1 {
			t.Errorf("n=%d: query called %d times, want %d", n, *calls, n+1)
		}
		if clk.Sleeps() != n {
			t.Errorf("n=%d: slept %d times, want %d", n, clk.Sleeps(), n)
		}
	}
}

func TestUntil_StopsAtDeadline(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock(time.Time{})
	clk.SetAutoAdvance(true)
	deadline, err := Deadline(clk.Now(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	got, err := Until(context.Background(), clk, time.Second, deadline,
		func(context.Context) (bool, error) { calls++; return false, nil }, identity)
	if err != nil {
		t.Fatalf("Until() unexpected error: %v", err)
	}
	if got {
		t.Error("Until() returned satisfied state, want last unsatisfied state")
	}
	if calls != 6 {
		t.Errorf("query called %d times, want 6", calls)
	}
}

func TestUntil_CancelDuringSleepReturnsLastState(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan struct{})
	var got int
	var err error
	go func() {
		defer close(done)
		got, err = Until(ctx, clk, time.Hour, time.Time{},
			func(context.Context) (int, error) { calls++; return 7, nil },
			func(int) bool { return false })
	}()

	for clk.Waiters() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if err != nil {
		t.Fatalf("Until() error = %v, want nil on cancellation", err)
	}
	if got != 7 {
		t.Errorf("Until() = %d, want last observed state 7", got)
	}
	if calls != 1 {
		t.Errorf("query called %d times, want 1", calls)
	}
}

func TestUntil_QueryErrorPropagates(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock(time.Time{})
	clk.SetAutoAdvance(true)
	boom := errors.New("squeue failed")

	calls := 0
	got, err := Until(context.Background(), clk, time.Second, time.Time{},
		func(context.Context) (int, error) {
			calls++
			if calls == 3 {
				return 0, boom
			}
			return calls, nil
		},
		func(int) bool { return false })

	if !errors.Is(err, boom) {
		t.Fatalf("Until() error = %v, want %v", err, boom)
	}
	if got != 2 {
		t.Errorf("Until() = %d, want last good state 2", got)
	}
}
