package engine

import (
	"time"

	"github.com/sicko7947/waitflow"
)

// calculateBackoff is a wrapper around the internal helper. retry is the
// 1-based retry number (attempt 2 is retry 1).
func calculateBackoff(baseDelayMs int, retry int, strategy waitflow.BackoffStrategy) time.Duration {
	return waitflow.CalculateBackoff(baseDelayMs, retry, strategy)
}
