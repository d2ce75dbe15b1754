package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/asklens/asklens/pkg/models"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultCoalesceTTL bounds how long an in-flight entry may absorb duplicates.
const DefaultCoalesceTTL = 10 * time.Second

// inflightCall is the shared result handle concurrent duplicate callers await.
type inflightCall struct {
	done chan struct{}
	val  *models.CompletionResponse
	err  error
}

// Coalescer deduplicates byte-identical concurrent requests within a TTL
// window. The first caller executes the operation; same-key callers arriving
// while it is in flight await the shared handle. Settled entries are removed
// immediately, so a later identical request re-executes — a stale answer is
// never served outside the window.
type Coalescer struct {
	ttl      time.Duration
	inflight *ttlcache.Cache[string, *inflightCall]

	onShared func()
}

// NewCoalescer creates a coalescer with the given TTL (DefaultCoalesceTTL
// when zero). The eviction loop runs until Stop is called.
func NewCoalescer(ttl time.Duration) *Coalescer {
	if ttl <= 0 {
		ttl = DefaultCoalesceTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *inflightCall](ttl),
		ttlcache.WithDisableTouchOnHit[string, *inflightCall](),
	)
	go cache.Start()
	return &Coalescer{ttl: ttl, inflight: cache}
}

// Stop terminates the eviction loop.
func (c *Coalescer) Stop() {
	c.inflight.Stop()
}

// Key derives the coalescing key from the tenant, the message, and the prior
// user turns, so only byte-identical effective content is merged.
func Key(tenantID, message string, history []models.ChatMessage) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(message))
	for _, m := range history {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	return tenantID + ":" + hex.EncodeToString(h.Sum(nil))
}

// Do executes fn under the key, or awaits an identical in-flight call.
// The shared return reports whether this caller piggybacked on another
// caller's execution.
func (c *Coalescer) Do(ctx context.Context, key string, fn func() (*models.CompletionResponse, error)) (resp *models.CompletionResponse, shared bool, err error) {
	call := &inflightCall{done: make(chan struct{})}
	item, existed := c.inflight.GetOrSet(key, call)
	if existed {
		prior := item.Value()
		if c.onShared != nil {
			c.onShared()
		}
		select {
		case <-prior.done:
			return prior.val, true, prior.err
		case <-ctx.Done():
			return nil, true, ctx.Err()
		}
	}

	call.val, call.err = fn()
	close(call.done)
	// If our entry TTL-expired mid-flight, a successor may already hold the
	// key; only remove our own registration.
	if item := c.inflight.Get(key); item != nil && item.Value() == call {
		c.inflight.Delete(key)
	}
	return call.val, false, call.err
}

// Status snapshots the coalescer for the resilience endpoint.
func (c *Coalescer) Status() models.CoalescingStatus {
	return models.CoalescingStatus{InFlightCount: c.inflight.Len()}
}
