// Package admission decides whether a store creation request may proceed.
// Policies run in order before any side effect; the first rejection wins.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is matched by rejections from rate-limiting policies.
var ErrRateLimited = errors.New("rate limit exceeded")

// Request is what a policy may inspect.
type Request struct {
	// Origin identifies the requester, normally its IP address.
	Origin string
	// Type is the requested engine.
	Type string
}

// Policy admits or rejects a creation request. Implementations must not
// record anything for a request they reject.
type Policy interface {
	Name() string
	Admit(ctx context.Context, req Request) error
}

// RejectionError is returned for a rejected request.
type RejectionError struct {
	Policy string
	// RetryAfter is when the same request would next be admitted, if known.
	RetryAfter time.Duration
	Err        error
}

func (e *RejectionError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %v (retry after %s)", e.Policy, e.Err, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("%s: %v", e.Policy, e.Err)
}

func (e *RejectionError) Unwrap() error { return e.Err }

// Releaser is implemented by policies that hold capacity for an admitted
// request. Release gives back the capacity of one admission of req.
type Releaser interface {
	Release(ctx context.Context, req Request)
}

// Chain runs policies in order.
type Chain []Policy

// Admit returns the first rejection, or nil if every policy admits req.
// Capacity taken by policies ahead of a rejecting one is released.
func (c Chain) Admit(ctx context.Context, req Request) error {
	for i, p := range c {
		if err := p.Admit(ctx, req); err != nil {
			rejectionsTotal.WithLabelValues(p.Name()).Inc()
			c[:i].Release(ctx, req)
			return err
		}
	}
	return nil
}

// Release returns the capacity an admitted req holds, for a request that
// failed before the store was accepted.
func (c Chain) Release(ctx context.Context, req Request) {
	for _, p := range c {
		if r, ok := p.(Releaser); ok {
			r.Release(ctx, req)
		}
	}
}
