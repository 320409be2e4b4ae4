package scan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmissionController_Limits(t *testing.T) {
	a := NewAdmissionController(2)
	assert.Equal(t, 2, a.Limit())
	assert.Equal(t, 0, a.InFlight())

	assert.True(t, a.TryAcquire())
	assert.True(t, a.TryAcquire())
	assert.Equal(t, 2, a.InFlight())

	// Saturated: rejected immediately, nothing queues.
	assert.False(t, a.TryAcquire())

	a.Release()
	assert.Equal(t, 1, a.InFlight())
	assert.True(t, a.TryAcquire())
}

func TestAdmissionController_NonPositiveLimit(t *testing.T) {
	a := NewAdmissionController(0)
	assert.Equal(t, 1, a.Limit())

	assert.True(t, a.TryAcquire())
	assert.False(t, a.TryAcquire())
}

func TestAdmissionController_ReleaseWithoutAcquire(t *testing.T) {
	a := NewAdmissionController(1)
	// Must not block or go negative.
	a.Release()
	assert.Equal(t, 0, a.InFlight())
	assert.True(t, a.TryAcquire())
}

func TestAdmissionController_ConcurrentAcquire(t *testing.T) {
	const limit = 8
	const callers = 100

	a := NewAdmissionController(limit)

	var mu sync.Mutex
	admitted := 0

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.TryAcquire() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// No more than limit callers may hold a slot at once. Without
	// releases, exactly limit acquire.
	assert.Equal(t, limit, admitted)
	assert.Equal(t, limit, a.InFlight())
}
