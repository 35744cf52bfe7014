package worker

import (
	"context"
	"sync/atomic"

	"github.com/tarsyvoice/autotune/pkg/llm"
)

// budgetedClient wraps an llm.Client with a per-tick call budget
// (spec.md §5 "Rate limits"). Once the budget is exhausted, further
// calls fail with a RateLimitedError instead of reaching the provider;
// the worker maps that into a WAITING transition with
// reason = "rate_limited" rather than losing already-written work.
type budgetedClient struct {
	inner      llm.Client
	budget     int
	attempted  int64
	onExceeded func()
	onCall     func()
}

func newBudgetedClient(inner llm.Client, budget int) *budgetedClient {
	return &budgetedClient{inner: inner, budget: budget}
}

func (c *budgetedClient) Generate(ctx context.Context, in llm.GenerateInput) (llm.GenerateOutput, error) {
	attempted := atomic.AddInt64(&c.attempted, 1)
	if int(attempted) > c.budget {
		if c.onExceeded != nil {
			c.onExceeded()
		}
		return llm.GenerateOutput{}, &RateLimitedError{CallsAttempted: int(attempted), Budget: c.budget}
	}
	if c.onCall != nil {
		c.onCall()
	}
	return c.inner.Generate(ctx, in)
}

func (c *budgetedClient) callsMade() int {
	return int(atomic.LoadInt64(&c.attempted))
}
