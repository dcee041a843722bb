package dispatch

import (
	"time"

	"github.com/richytech/webhookrelay/internal/models"
)

// NextRetryDelay returns the delay before the next attempt, given the number
// of attempts already made. The interval table is a literal lookup, one entry
// per retry: entry retryCount-1 is the delay for the retry being scheduled, so
// a table of N intervals allows N retries after the initial attempt. The
// policy's MaxAttempts caps total attempts independently when set.
func NextRetryDelay(retryCount int, policy models.RetryPolicy) (time.Duration, bool) {
	if retryCount < 1 {
		return 0, false
	}
	if policy.MaxAttempts > 0 && retryCount >= policy.MaxAttempts {
		return 0, false
	}
	idx := retryCount - 1
	if idx >= len(policy.IntervalsMs) {
		return 0, false
	}
	return time.Duration(policy.IntervalsMs[idx]) * time.Millisecond, true
}

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
