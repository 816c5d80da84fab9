package amaterasu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayBounds(t *testing.T) {
	for attempt := 0; attempt <= 16; attempt++ {
		window := backoffBase << uint(attempt)
		if attempt > 10 || window > backoffMax || window <= 0 {
			window = backoffMax
		}
		for i := 0; i < 50; i++ {
			d := backoffDelay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.Less(t, d, window, "attempt %d", attempt)
		}
	}
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	// Far past the doubling range the window must stay pinned at the cap,
	// including attempts large enough to overflow the shift.
	for _, attempt := range []int{11, 30, 63, 100} {
		for i := 0; i < 20; i++ {
			assert.Less(t, backoffDelay(attempt), backoffMax)
		}
	}
}

func TestIdentifyDelayRange(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := identifyDelay()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 5*time.Second)
	}
}
