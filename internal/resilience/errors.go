package resilience

import (
	"fmt"
	"time"
)

// CircuitOpenError is the fail-fast rejection while the breaker is open.
// RetryAfter tells callers how long until the next probe is allowed.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry after %s", e.RetryAfter.Round(time.Millisecond))
}

// ConcurrencyLimitError is returned when a queued caller times out or is
// cancelled before a slot becomes available.
type ConcurrencyLimitError struct {
	Waited time.Duration
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit reached, gave up after %s in queue", e.Waited.Round(time.Millisecond))
}
