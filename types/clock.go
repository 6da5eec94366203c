package types

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// MonotonicClock wraps base so that successive calls return strictly
// increasing UTC instants at millisecond precision, the resolution of the
// coarsest store. Two writes to the same row in one process therefore never
// share a timestamp, which keeps Entity.IsNewlyCreated exact.
func MonotonicClock(base Clock) Clock {
	if base == nil {
		base = SystemClock
	}
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		t := base().UTC().Truncate(time.Millisecond)
		if !t.After(last) {
			t = last.Add(time.Millisecond)
		}
		last = t
		return t
	}
}
