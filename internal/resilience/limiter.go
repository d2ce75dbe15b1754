package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/asklens/asklens/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// LimiterConfig tunes the concurrency limiter.
type LimiterConfig struct {
	MaxConcurrent int
	QueueTimeout  time.Duration
}

// DefaultLimiterConfig mirrors the production defaults.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{MaxConcurrent: 5, QueueTimeout: 30 * time.Second}
}

// waiter is one queued acquisition. The slot is handed over by closing ready
// with granted set, so exactly one waiter wakes per release.
type waiter struct {
	ready   chan struct{}
	granted bool
}

// Limiter is a counting semaphore with a bounded FIFO wait queue. A released
// slot is handed directly to the queue head rather than waking all waiters.
type Limiter struct {
	mu    sync.Mutex
	cfg   LimiterConfig
	clock clockwork.Clock

	inFlight int
	queue    []*waiter

	onTimeout     func()
	onQueueChange func(depth int)
}

// NewLimiter creates an idle limiter. A nil clock uses wall time.
func NewLimiter(cfg LimiterConfig, clock clockwork.Clock) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg = DefaultLimiterConfig()
	}
	return &Limiter{cfg: cfg, clock: clock}
}

// Acquire obtains a slot, queueing FIFO when all slots are busy. The returned
// release func must be called on every exit path; it is safe to call once
// from a defer regardless of how the wrapped call ends. Queued callers fail
// with ConcurrencyLimitError on timeout or context cancellation.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	if l.inFlight < l.cfg.MaxConcurrent {
		l.inFlight++
		l.mu.Unlock()
		return l.releaseFunc(), nil
	}

	w := &waiter{ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	queued := len(l.queue)
	l.queueChanged()
	l.mu.Unlock()

	log.Debug().Int("queued", queued).Msg("concurrency limiter queueing caller")

	start := l.clock.Now()
	select {
	case <-w.ready:
		// Slot handed over by a releasing holder; inFlight already counted.
		return l.releaseFunc(), nil

	case <-l.clock.After(l.cfg.QueueTimeout):
		return l.abandon(w, start)

	case <-ctx.Done():
		return l.abandon(w, start)
	}
}

// abandon removes a waiter from the queue. If the grant raced ahead of the
// timeout, the slot is already ours and must be passed on.
func (l *Limiter) abandon(w *waiter, start time.Time) (func(), error) {
	l.mu.Lock()
	if w.granted {
		l.mu.Unlock()
		l.releaseFunc()()
		return nil, &ConcurrencyLimitError{Waited: l.clock.Now().Sub(start)}
	}
	for i, queued := range l.queue {
		if queued == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			break
		}
	}
	l.queueChanged()
	l.mu.Unlock()

	if l.onTimeout != nil {
		l.onTimeout()
	}
	waited := l.clock.Now().Sub(start)
	log.Warn().Dur("waited", waited).Msg("concurrency limiter queue timeout")
	return nil, &ConcurrencyLimitError{Waited: waited}
}

// releaseFunc returns the idempotent release closure for a held slot.
func (l *Limiter) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(l.release)
	}
}

// release hands the slot to the queue head, or frees it when nobody waits.
func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) > 0 {
		head := l.queue[0]
		l.queue = l.queue[1:]
		head.granted = true
		close(head.ready)
		l.queueChanged()
		return
	}
	l.inFlight--
}

// queueChanged reports the new queue depth. Called with mu held.
func (l *Limiter) queueChanged() {
	if l.onQueueChange != nil {
		l.onQueueChange(len(l.queue))
	}
}

// Status snapshots the limiter for the resilience endpoint.
func (l *Limiter) Status() models.ConcurrencyStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.ConcurrencyStatus{
		InFlight:      l.inFlight,
		Queued:        len(l.queue),
		MaxConcurrent: l.cfg.MaxConcurrent,
	}
}
