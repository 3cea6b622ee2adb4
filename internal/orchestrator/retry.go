package orchestrator

// #region engine

// RetryEngine decides whether a malformed reasoning response earns another
// round. Transport failures are retried inside the guard and never reach it,
// so the two budgets stay separate.
type RetryEngine struct {
	maxMalformed int
}

// NewRetryEngine creates an engine allowing maxMalformed re-asks. Negative means none.
func NewRetryEngine(maxMalformed int) *RetryEngine {
	if maxMalformed < 0 {
		maxMalformed = 0
	}
	return &RetryEngine{maxMalformed: maxMalformed}
}

// #endregion

// #region should-retry

// ShouldRetry reports whether to re-ask after the latest attempt.
// attempts contains all attempts so far, including the one just made.
func (r *RetryEngine) ShouldRetry(attempts []Attempt) bool {
	if len(attempts) == 0 {
		return false
	}
	latest := attempts[len(attempts)-1]
	if !isMalformed(latest.Err) {
		return false
	}
	malformed := 0
	for _, a := range attempts {
		if isMalformed(a.Err) {
			malformed++
		}
	}
	return malformed <= r.maxMalformed
}

// #endregion
