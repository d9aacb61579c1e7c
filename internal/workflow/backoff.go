package workflow

import (
	"math/rand/v2"
	"time"
)

// backoff computes the delay before the next poll: exponential in the attempt
// number, capped, with symmetric jitter to spread load across jobs that were
// ingested together.
func (e *Engine) backoff(attempt int) time.Duration {
	base := e.backoffBase
	if base <= 0 {
		base = 5 * time.Second
	}
	cap := e.backoffCap
	if cap <= 0 {
		cap = 60 * time.Second
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			delay = cap
			break
		}
	}
	if delay > cap {
		delay = cap
	}

	if e.backoffJitter > 0 {
		spread := float64(delay) * e.backoffJitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
