// Package reliability holds small classification helpers shared by the
// transports that talk to browser-automation engines.
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

// IsRetryableEngineCode classifies retryable error codes reported inside an
// engine's event stream.
func IsRetryableEngineCode(code string) bool {
	switch code {
	case "rate_limited", "resource_exhausted", "queue_overflow", "browser_busy":
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
