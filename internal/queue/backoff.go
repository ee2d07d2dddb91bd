package queue

import (
	"math"
	"math/rand"
	"time"
)

const jitterPct = 25

// RetryDelay returns the exponential backoff for the given attempt with ±25%
// jitter, never above max.
func RetryDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if exp > float64(max) {
		exp = float64(max)
	}
	return jitteredDelay(time.Duration(exp), max)
}

func jitteredDelay(base, max time.Duration) time.Duration {
	delta := (rand.Float64()*2 - 1) * float64(jitterPct) / 100.0
	wait := time.Duration(float64(base) * (1 + delta))
	if wait < 0 {
		wait = base
	}
	if wait > max {
		wait = max
	}
	return wait
}
