package amaterasu

import (
	"math/rand"
	"time"
)

// backoffDelay computes the reconnect delay for the nth attempt: full
// jitter over a doubling window, capped at backoffMax.
func backoffDelay(attempt int) time.Duration {
	window := backoffBase << uint(attempt)
	if attempt > 10 || window > backoffMax || window <= 0 {
		window = backoffMax
	}
	return time.Duration(rand.Int63n(int64(window)))
}

// identifyDelay spreads fresh identifies after an invalid session so a
// fleet of clients does not hit the gateway in lockstep.
func identifyDelay() time.Duration {
	return time.Second + time.Duration(rand.Int63n(int64(4*time.Second)))
}
