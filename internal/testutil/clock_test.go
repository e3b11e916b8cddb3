package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestStepClock_Advances(t *testing.T) {
	c := NewStepClock(epoch, time.Second)

	assert.Equal(t, epoch, c.Now())
	assert.Equal(t, epoch.Add(time.Second), c.Now())
	assert.Equal(t, epoch.Add(2*time.Second), c.Peek(), "peek does not advance")
	assert.Equal(t, epoch.Add(2*time.Second), c.Now())
}

func TestStepClock_Reset(t *testing.T) {
	c := NewStepClock(epoch, time.Minute)
	c.Now()
	c.Now()
	c.Reset()
	assert.Equal(t, epoch, c.Now())
}

func TestStepClock_ConcurrentReadingsAreDistinct(t *testing.T) {
	c := NewStepClock(epoch, time.Millisecond)
	const n = 200

	readings := make(chan time.Time, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			readings <- c.Now()
		}()
	}
	wg.Wait()
	close(readings)

	seen := make(map[time.Time]bool)
	for r := range readings {
		assert.False(t, seen[r], "reading %v returned twice", r)
		seen[r] = true
	}
	assert.Len(t, seen, n)
}
