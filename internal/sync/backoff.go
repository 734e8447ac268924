package sync

import (
	"math/rand"
	"time"
)

// RetryDelay computes the wait before retry number attempt (0-based) of a
// transient failure: base doubled per attempt, capped at max, with up to
// jitterFrac of proportional jitter added. jitterFrac 0 makes it pure.
func RetryDelay(attempt int, base, max time.Duration, jitterFrac float64) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if max > 0 && d > max {
		d = max
	}
	if jitterFrac > 0 {
		d += time.Duration(rand.Float64() * jitterFrac * float64(d))
		if max > 0 && d > max {
			d = max
		}
	}
	return d
}

// InCooldown reports whether a conversation with the given consecutive
// failure count should be skipped this cycle. Cooldown engages at threshold
// failures with a window of 2x the cycle interval, doubling for each further
// failure and capped at maxCycles intervals. sinceLastAttempt is the time
// since the conversation was last attempted.
func InCooldown(failures int, sinceLastAttempt, interval time.Duration, threshold, maxCycles int) bool {
	if threshold <= 0 || failures < threshold {
		return false
	}
	cycles := 2
	for i := threshold; i < failures; i++ {
		cycles *= 2
		if maxCycles > 0 && cycles >= maxCycles {
			cycles = maxCycles
			break
		}
	}
	if maxCycles > 0 && cycles > maxCycles {
		cycles = maxCycles
	}
	return sinceLastAttempt < time.Duration(cycles)*interval
}
