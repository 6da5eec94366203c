package types

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntityIsNewlyCreated(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	e := NewEntityAt(at)
	assert.True(t, e.IsNewlyCreated())

	e.Touch(at.Add(time.Millisecond))
	assert.False(t, e.IsNewlyCreated())

	assert.False(t, Entity{}.IsNewlyCreated(), "zero entity was never stored")
}

func TestMonotonicClock(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 123456789, time.UTC)
	clock := MonotonicClock(func() time.Time { return fixed })

	first := clock()
	second := clock()

	assert.Equal(t, fixed.Truncate(time.Millisecond), first)
	assert.True(t, second.After(first))
	assert.Equal(t, time.Millisecond, second.Sub(first))
}

func TestMonotonicClockConcurrent(t *testing.T) {
	clock := MonotonicClock(nil)

	const n = 64
	seen := make(chan time.Time, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- clock()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]struct{}, n)
	for ts := range seen {
		unique[ts.UnixNano()] = struct{}{}
	}
	assert.Len(t, unique, n)
}
