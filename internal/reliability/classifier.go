package reliability

import "time"

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Backoff is ExponentialBackoff, except that a server-provided retry hint
// wins when it is longer.
func Backoff(attempt int, base, cap, retryAfter time.Duration) time.Duration {
	d := ExponentialBackoff(attempt, base, cap)
	if retryAfter > d {
		return retryAfter
	}
	return d
}
