package agent

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusError is a non-2xx sidecar answer.
type StatusError struct {
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sidecar answered %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("sidecar answered %d: %s", e.Code, e.Message)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code == http.StatusServiceUnavailable
}

func isRetryable(err error) (time.Duration, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.retryable() {
		return se.RetryAfter, true
	}
	return 0, false
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns the delay before attempt+1: base * 2^(attempt-1), capped,
// with 0.7..1.3 jitter. A server hint wins when present.
func backoff(base, maxDelay time.Duration, attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return min(hint, maxDelay)
	}
	d := base
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, maxDelay)) * (0.7 + rand.Float64()*0.6))
	return min(d, maxDelay)
}
