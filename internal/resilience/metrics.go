package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus instruments for the resilience layer.
type Metrics struct {
	BreakerTrips     prometheus.Counter
	BreakerRejected  prometheus.Counter
	LimiterTimeouts  prometheus.Counter
	CoalescedHits    prometheus.Counter
	CallsTotal       *prometheus.CounterVec
	InFlight         prometheus.Gauge
	QueuedWaiters    prometheus.Gauge
}

// NewMetrics registers the resilience instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BreakerTrips: factory.NewCounter(prometheus.CounterOpts{
			Name: "asklens_breaker_trips_total",
			Help: "Number of times the circuit breaker tripped open.",
		}),
		BreakerRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "asklens_breaker_rejected_total",
			Help: "Calls rejected while the circuit breaker was open.",
		}),
		LimiterTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "asklens_limiter_queue_timeouts_total",
			Help: "Queued callers that timed out waiting for a slot.",
		}),
		CoalescedHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "asklens_coalesced_requests_total",
			Help: "Requests served by piggybacking on an identical in-flight call.",
		}),
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asklens_llm_calls_total",
			Help: "LLM provider calls by outcome.",
		}, []string{"outcome"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asklens_llm_in_flight",
			Help: "LLM calls currently in flight.",
		}),
		QueuedWaiters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asklens_limiter_queued",
			Help: "Callers currently queued for a concurrency slot.",
		}),
	}
}
