package xclient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrAuthRequired means no usable credential could be retrieved.
var ErrAuthRequired = errors.New("auth required")

// RateLimitedError is returned on HTTP 429. RetryAfter is zero when the
// remote gave no usable hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// IsRateLimited reports whether err is (or wraps) a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// parseRetryAfter reads a Retry-After header encoded either as integer
// seconds or as an HTTP date. Values that come out non-positive clamp
// to one second; an absent or unparsable header yields zero.
func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(h); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(h); err == nil {
		d = time.Until(t)
	} else {
		return 0
	}
	if d <= 0 {
		return time.Second
	}
	return d
}
