package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual_AdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Hour), c.Advance(time.Hour))

	later := time.Date(2026, 3, 5, 0, 0, 0, 0, time.FixedZone("X", 3600))
	c.Set(later)
	assert.Equal(t, later.UTC(), c.Now())
	assert.Equal(t, time.UTC, c.Now().Location())
}

func TestManual_ConcurrentAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(50*time.Second), c.Now())
}

func TestSystem_ReturnsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System{}.Now().Location())
}
