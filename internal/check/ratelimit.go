package check

import (
	"fortgate/internal/dataType"
)

// RateLimiter enforces the per-client fixed-window limit. It is
// independent of rule matching; every request counts, including ones
// that are already over the limit.
type RateLimiter struct {
	tracker *dataType.RateTracker
}

func NewRateLimiter(tracker *dataType.RateTracker) *RateLimiter {
	return &RateLimiter{tracker: tracker}
}

// IsLimited registers this attempt and reports whether the client is
// now past maxRequests inside the current window. The first call of a
// fresh window is never limited (count resets to 1).
func (l *RateLimiter) IsLimited(clientIP string, maxRequests, windowSeconds int64) bool {
	if maxRequests <= 0 || windowSeconds <= 0 {
		return false
	}
	return l.tracker.Hit(clientIP, windowSeconds) > maxRequests
}
