package clock

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotClock_Monotonic(t *testing.T) {
	c := New()
	assert.Equal(t, uint64(0), c.Get())

	assert.Equal(t, uint64(5), c.Observe(5))
	assert.Equal(t, uint64(5), c.Observe(3))
	assert.Equal(t, uint64(5), c.Get())
	assert.Equal(t, uint64(10), c.Observe(10))
	assert.Equal(t, uint64(10), c.Get())
}

// TestSlotClock_ConcurrentObserve asserts that after any concurrent
// sequence of Observe calls completes, Get() equals the max of all
// observed values, and every intermediate Get() is non-decreasing.
func TestSlotClock_ConcurrentObserve(t *testing.T) {
	c := New()
	const n = 500
	var wg sync.WaitGroup
	values := make([]uint64, n)
	r := rand.New(rand.NewSource(1))
	for i := range values {
		values[i] = uint64(r.Intn(10_000))
	}

	var maxVal uint64
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}

	for _, v := range values {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			before := c.Get()
			// Observe's own return value is never less than the value it
			// was called with, regardless of concurrent racers.
			assert.GreaterOrEqual(t, c.Observe(v), v)
			// A later read never goes below an earlier one.
			assert.GreaterOrEqual(t, c.Get(), before)
		}(v)
	}
	wg.Wait()

	assert.Equal(t, maxVal, c.Get())
}
