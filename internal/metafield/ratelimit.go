package metafield

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitError is returned instead of calling the platform when the limiter
// has no capacity left.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %dms", e.RetryAfter.Milliseconds())
}

// NewLimiter allows maxRequests calls per window, with the full budget
// available as a burst.
func NewLimiter(maxRequests int, window time.Duration) *rate.Limiter {
	if maxRequests <= 0 {
		maxRequests = 40
	}
	if window <= 0 {
		window = time.Minute
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(maxRequests)), maxRequests)
}

// reserve takes one token from limiter or reports how long to wait for it.
func reserve(limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	r := limiter.Reserve()
	if !r.OK() {
		return &RateLimitError{}
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return &RateLimitError{RetryAfter: delay}
	}
	return nil
}
