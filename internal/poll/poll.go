// SPDX-License-Identifier: MPL-2.0

// Package poll implements deadline-bounded polling of a state that has no
// push notification channel, such as a batch job observed through CLI tools.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/invowk/batchsh/internal/clock"
)

// ErrNegativeTimeout is the sentinel error wrapped by NegativeTimeoutError.
var ErrNegativeTimeout = errors.New("negative timeout")

// NegativeTimeoutError is returned when a wait is requested with a negative
// timeout. It is a contract violation and is never clamped.
type NegativeTimeoutError struct {
	Timeout time.Duration
}

// Error implements the error interface for NegativeTimeoutError.
func (e *NegativeTimeoutError) Error() string {
	return fmt.Sprintf("illegal timeout %s: must be zero (wait forever) or positive", e.Timeout)
}

// Unwrap returns ErrNegativeTimeout for errors.Is() compatibility.
func (e *NegativeTimeoutError) Unwrap() error { return ErrNegativeTimeout }

// Deadline converts a relative timeout into an absolute deadline.
// A zero timeout yields the zero time, meaning no deadline.
func Deadline(now time.Time, timeout time.Duration) (time.Time, error) {
	switch {
	case timeout < 0:
		return time.Time{}, &NegativeTimeoutError{Timeout: timeout}
	case timeout == 0:
		return time.Time{}, nil
	default:
		return now.Add(timeout), nil
	}
}

// Expired reports whether now is at or past deadline. The zero deadline
// never expires.
func Expired(now, deadline time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}

// Until queries the state once, then keeps sleeping interval and querying
// again while stop is false and the deadline has not passed.
//
// Cancelling ctx during a sleep ends the wait early with the last observed
// state and a nil error. Query errors end the wait and are returned with the
// last state observed before the failing query.
func Until[S any](
	ctx context.Context,
	clk clock.Clock,
	interval time.Duration,
	deadline time.Time,
	query func(context.Context) (S, error),
	stop func(S) bool,
) (S, error) {
	state, err := query(ctx)
	if err != nil {
		return state, err
	}

	for !stop(state) && !Expired(clk.Now(), deadline) {
		select {
		case <-ctx.Done():
			return state, nil
		case <-clk.After(interval):
		}

		next, err := query(ctx)
		if err != nil {
			return state, err
		}
		state = next
	}

	return state, nil
}
