// Package backoff computes retry delays for failed jobs.
package backoff

import (
	"math"
	"time"
)

// maxDelay caps the delay so huge bases or attempt counts cannot overflow
// time.Duration.
const maxDelay = 365 * 24 * time.Hour

// Exponential returns base^attempts seconds. attempts is the number of failed
// attempts so far (1 after the first failure). A base below 1 is treated as 2.
func Exponential(base float64, attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	if base < 1 {
		base = 2
	}
	secs := math.Pow(base, float64(attempts))
	if math.IsInf(secs, 0) || secs*float64(time.Second) >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(secs * float64(time.Second))
}
