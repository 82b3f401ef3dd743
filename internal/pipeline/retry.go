package pipeline

// DecideRetry decides whether a job whose attempt just failed transiently
// goes back to the queue or is marked permanently failed.
//
// Corrupted counters resolve fail-safe: a negative attempts value (the
// store maps a NULL or unscannable column to -1) is treated as zero so a
// broken counter cannot bury an otherwise healthy job, while a
// non-positive maxAttempts is treated as exhausted so a broken
// configuration cannot grant unbounded retries.
func DecideRetry(attempts, maxAttempts int) Status {
	if maxAttempts <= 0 {
		return StatusFailed
	}
	if attempts < 0 {
		attempts = 0
	}
	if attempts < maxAttempts {
		return StatusQueued
	}
	return StatusFailed
}
