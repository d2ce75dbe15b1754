package resilience

import (
	"context"
	"time"

	"github.com/asklens/asklens/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// GateConfig aggregates the tuning of all three admission-control structures.
type GateConfig struct {
	Breaker     BreakerConfig
	Limiter     LimiterConfig
	CoalesceTTL time.Duration
}

// Gate wraps an LLM call in coalescing, circuit breaking, and concurrency
// limiting. One Gate is constructed per process and injected into the
// pipeline — there are no ambient singletons.
type Gate struct {
	breaker   *CircuitBreaker
	limiter   *Limiter
	coalescer *Coalescer
	metrics   *Metrics
}

// NewGate builds the composed admission-control wrapper. clock may be nil
// (wall time); reg may be nil to skip metric registration.
func NewGate(cfg GateConfig, clock clockwork.Clock, reg prometheus.Registerer) *Gate {
	g := &Gate{
		breaker:   NewCircuitBreaker(cfg.Breaker, clock),
		limiter:   NewLimiter(cfg.Limiter, clock),
		coalescer: NewCoalescer(cfg.CoalesceTTL),
	}
	if reg != nil {
		g.metrics = NewMetrics(reg)
		g.breaker.onTrip = g.metrics.BreakerTrips.Inc
		g.breaker.onReject = g.metrics.BreakerRejected.Inc
		g.limiter.onTimeout = g.metrics.LimiterTimeouts.Inc
		g.limiter.onQueueChange = func(depth int) {
			g.metrics.QueuedWaiters.Set(float64(depth))
		}
		g.coalescer.onShared = g.metrics.CoalescedHits.Inc
	}
	return g
}

// Do runs fn under the full resilience stack. Identical concurrent requests
// (same key) share a single execution; the breaker and limiter only see the
// executing caller, so duplicates consume no slots. Admission rejections
// (CircuitOpenError, ConcurrencyLimitError) are not recorded as call
// outcomes — only completions feed the breaker window.
func (g *Gate) Do(ctx context.Context, key string, fn func(context.Context) (*models.CompletionResponse, error)) (*models.CompletionResponse, error) {
	resp, _, err := g.coalescer.Do(ctx, key, func() (*models.CompletionResponse, error) {
		token, err := g.breaker.Acquire()
		if err != nil {
			return nil, err
		}

		release, err := g.limiter.Acquire(ctx)
		if err != nil {
			g.breaker.cancelAcquire(token)
			return nil, err
		}
		defer release()

		if g.metrics != nil {
			g.metrics.InFlight.Inc()
			defer g.metrics.InFlight.Dec()
		}

		resp, err := fn(ctx)
		g.breaker.Record(token, err == nil)
		if g.metrics != nil {
			if err == nil {
				g.metrics.CallsTotal.WithLabelValues("success").Inc()
			} else {
				g.metrics.CallsTotal.WithLabelValues("failure").Inc()
			}
		}
		return resp, err
	})
	return resp, err
}

// Close stops background loops (the coalescer's eviction ticker).
func (g *Gate) Close() {
	g.coalescer.Stop()
}

// Status snapshots all three structures for the resilience endpoint.
func (g *Gate) Status() models.ResilienceStatus {
	return models.ResilienceStatus{
		CircuitBreaker: g.breaker.Status(),
		Concurrency:    g.limiter.Status(),
		Coalescing:     g.coalescer.Status(),
	}
}
