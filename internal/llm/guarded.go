package llm

import (
	"context"

	"github.com/asklens/asklens/internal/resilience"
	"github.com/asklens/asklens/pkg/models"
)

// GuardedClient routes every completion through the resilience gate:
// coalescing on the supplied key, circuit breaking, and concurrency limiting.
// This is the client the generators consume — the raw transport is never
// called directly by pipeline code.
type GuardedClient struct {
	gate  *resilience.Gate
	inner Client
}

// NewGuardedClient wraps inner with gate.
func NewGuardedClient(gate *resilience.Gate, inner Client) *GuardedClient {
	return &GuardedClient{gate: gate, inner: inner}
}

// Complete executes one guarded completion under the coalescing key.
func (g *GuardedClient) Complete(ctx context.Context, key string, messages []models.ChatMessage, opts models.CompletionOptions) (*models.CompletionResponse, error) {
	return g.gate.Do(ctx, key, func(ctx context.Context) (*models.CompletionResponse, error) {
		return g.inner.Complete(ctx, messages, opts)
	})
}
