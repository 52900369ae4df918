package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// WriteRateLimiter throttles all write requests with one shared limiter.
type WriteRateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewWriteRateLimiter allows bursts of burst writes and then one write per
// refill interval.
func NewWriteRateLimiter(burst int, refill time.Duration) *WriteRateLimiter {
	if burst < 1 {
		burst = 1
	}
	if refill <= 0 {
		refill = time.Millisecond
	}
	return &WriteRateLimiter{
		limiter: rate.NewLimiter(rate.Every(refill), burst),
		now:     time.Now,
	}
}

// Allow takes a token. When none is available it returns false and the
// time until the next token.
func (l *WriteRateLimiter) Allow() (bool, time.Duration) {
	now := l.now()
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// Middleware rejects requests with 429 and Retry-After when no token is
// available.
func (l *WriteRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.Allow()
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			WriteProblem(w, r, http.StatusTooManyRequests, "Write rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
