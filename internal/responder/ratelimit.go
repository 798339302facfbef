package responder

import (
	"context"
	"sync"
	"time"
)

const (
	defaultSendBurst     = 5
	defaultSendPerMinute = 30
)

// RateLimiter paces outbound replies with a token bucket: up to burst
// replies go out back to back, then one per 60/perMinute seconds. Replies
// are delayed, never dropped.
type RateLimiter struct {
	mu     sync.Mutex
	burst  float64
	perSec float64
	avail  float64
	last   time.Time
}

func NewRateLimiter(burst int, perMinute float64) *RateLimiter {
	if burst <= 0 {
		burst = defaultSendBurst
	}
	if perMinute <= 0 {
		perMinute = defaultSendPerMinute
	}
	return &RateLimiter{
		burst:  float64(burst),
		perSec: perMinute / 60,
		avail:  float64(burst),
		last:   time.Now(),
	}
}

// reserve takes a token at now if one is available. Otherwise it returns
// how long until the next token.
func (rl *RateLimiter) reserve(now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.last) {
		rl.avail = min(rl.burst, rl.avail+now.Sub(rl.last).Seconds()*rl.perSec)
		rl.last = now
	}
	if rl.avail >= 1 {
		rl.avail--
		return 0
	}
	return time.Duration((1 - rl.avail) / rl.perSec * float64(time.Second))
}

// Wait blocks until a reply may be sent or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		d := rl.reserve(time.Now())
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
