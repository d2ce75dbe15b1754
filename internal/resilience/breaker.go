// Package resilience governs every call to the external LLM provider:
// a circuit breaker isolates a degraded provider, a concurrency limiter
// bounds in-flight calls with a FIFO wait queue, and a request coalescer
// merges identical concurrent requests. The Gate composes all three.
//
// All three structures are process-wide mutable state; each takes its own
// lock, so they are safe under Go's preemptive scheduler.
package resilience

import (
	"sync"
	"time"

	"github.com/asklens/asklens/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	WindowSize         int
	MinCallsBeforeEval int
	ErrorThreshold     float64
	OpenDuration       time.Duration
}

// DefaultBreakerConfig mirrors the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:         20,
		MinCallsBeforeEval: 5,
		ErrorThreshold:     0.6,
		OpenDuration:       30 * time.Second,
	}
}

// CircuitBreaker is a three-state fail-fast gate over provider calls.
// Outcomes are recorded in call-completion order into a fixed-size trailing
// window; once enough outcomes exist and the failure fraction crosses the
// threshold, the breaker opens. After OpenDuration a single probe is let
// through; its outcome decides between closing and re-opening.
type CircuitBreaker struct {
	mu    sync.Mutex
	cfg   BreakerConfig
	clock clockwork.Clock

	state    models.CircuitState
	gen      uint64 // advances on every trip; stale completions are dropped
	outcomes []bool // ring buffer of success flags
	next     int
	filled   int

	openedAt      time.Time
	probeInFlight bool
	totalTrips    int64
	totalRejected int64

	onTrip   func()
	onReject func()
}

// NewCircuitBreaker creates a closed breaker. A nil clock uses wall time.
func NewCircuitBreaker(cfg BreakerConfig, clock clockwork.Clock) *CircuitBreaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.WindowSize <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &CircuitBreaker{
		cfg:      cfg,
		clock:    clock,
		state:    models.CircuitClosed,
		outcomes: make([]bool, cfg.WindowSize),
	}
}

// Acquire gates a new call. On admission it returns the breaker generation
// the call was admitted under; hand that token back to Record (or
// cancelAcquire). While the breaker is open it returns CircuitOpenError with
// the remaining cooldown. The transition to HALF_OPEN happens here: the
// first acquire after the cooldown elapses is admitted as the probe.
func (b *CircuitBreaker) Acquire() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case models.CircuitClosed:
		return b.gen, nil

	case models.CircuitOpen:
		elapsed := b.clock.Now().Sub(b.openedAt)
		if elapsed < b.cfg.OpenDuration {
			b.totalRejected++
			if b.onReject != nil {
				b.onReject()
			}
			return 0, &CircuitOpenError{RetryAfter: b.cfg.OpenDuration - elapsed}
		}
		b.state = models.CircuitHalfOpen
		b.probeInFlight = true
		log.Info().Msg("circuit breaker half-open, admitting probe")
		return b.gen, nil

	case models.CircuitHalfOpen:
		if b.probeInFlight {
			b.totalRejected++
			if b.onReject != nil {
				b.onReject()
			}
			return 0, &CircuitOpenError{RetryAfter: 0}
		}
		b.probeInFlight = true
		return b.gen, nil
	}
	return b.gen, nil
}

// cancelAcquire returns an admission that never became a call (for example a
// concurrency-limiter rejection downstream), so a half-open probe slot is not
// leaked. Stale tokens are ignored.
func (b *CircuitBreaker) cancelAcquire(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == models.CircuitHalfOpen && token == b.gen {
		b.probeInFlight = false
	}
}

// Record pushes a call outcome. Outcomes arrive in completion order, so a
// slow early call may trip the breaker after later calls already succeeded.
// A completion whose token predates the last trip is a straggler and is
// dropped; in particular it can never stand in for the half-open probe.
func (b *CircuitBreaker) Record(token uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if token != b.gen {
		return
	}

	if b.state == models.CircuitHalfOpen {
		// Only the probe carries the current generation while half-open.
		b.probeInFlight = false
		if success {
			b.state = models.CircuitClosed
			b.resetWindowLocked()
			log.Info().Msg("circuit breaker closed after successful probe")
		} else {
			b.tripLocked()
		}
		return
	}

	if b.state == models.CircuitOpen {
		return
	}

	b.outcomes[b.next] = success
	b.next = (b.next + 1) % b.cfg.WindowSize
	if b.filled < b.cfg.WindowSize {
		b.filled++
	}

	if b.filled >= b.cfg.MinCallsBeforeEval && b.errorRateLocked() >= b.cfg.ErrorThreshold {
		b.tripLocked()
	}
}

func (b *CircuitBreaker) tripLocked() {
	b.state = models.CircuitOpen
	b.openedAt = b.clock.Now()
	b.gen++
	b.totalTrips++
	if b.onTrip != nil {
		b.onTrip()
	}
	log.Warn().
		Float64("error_rate", b.errorRateLocked()).
		Int64("total_trips", b.totalTrips).
		Dur("open_duration", b.cfg.OpenDuration).
		Msg("circuit breaker tripped open")
}

func (b *CircuitBreaker) resetWindowLocked() {
	b.next = 0
	b.filled = 0
}

func (b *CircuitBreaker) errorRateLocked() float64 {
	if b.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.filled; i++ {
		if !b.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.filled)
}

// Status snapshots the breaker for the resilience endpoint.
func (b *CircuitBreaker) Status() models.CircuitBreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	var retryAfter time.Duration
	if b.state == models.CircuitOpen {
		if remaining := b.cfg.OpenDuration - b.clock.Now().Sub(b.openedAt); remaining > 0 {
			retryAfter = remaining
		}
	}
	return models.CircuitBreakerStatus{
		State:         b.state,
		ErrorRate:     b.errorRateLocked(),
		TotalTrips:    b.totalTrips,
		TotalRejected: b.totalRejected,
		RetryAfterMs:  retryAfter.Milliseconds(),
	}
}
