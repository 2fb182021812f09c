package gateway

import (
	"math"
	"math/rand/v2"
	"time"
)

// reconnector tracks reconnect attempts and computes exponential backoff
// with jitter.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	jitter      func() float64
}

func newReconnector(base, max time.Duration, maxAttempts int) *reconnector {
	return &reconnector{
		baseDelay:   base,
		maxDelay:    max,
		maxAttempts: maxAttempts,
		jitter:      rand.Float64,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	jitter := r.jitter() * float64(r.baseDelay) * 0.5
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+jitter,
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}
