package sync

import (
	"math/rand"
	"time"
)

// backoffSchedule returns the undithered delay before retry number `attempt`
// (1-based): base, base*2, base*4, ... capped.
func backoffSchedule(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap || d <= 0 {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// retryDelay applies ±20% jitter, never exceeding the cap.
func retryDelay(base, cap time.Duration, attempt int) time.Duration {
	d := backoffSchedule(base, cap, attempt)
	jittered := time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
	if jittered > cap {
		return cap
	}
	if jittered <= 0 {
		return base
	}
	return jittered
}
