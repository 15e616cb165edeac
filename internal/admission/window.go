package admission

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface satisfaction checks.
var (
	_ Policy   = (*SlidingWindow)(nil)
	_ Releaser = (*SlidingWindow)(nil)
)

// SlidingWindow admits at most Limit requests per origin in any Window-long
// interval. It keeps the admission times of each origin, so a rejected
// request never consumes capacity, and a released one gives its slot back.
type SlidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

// NewSlidingWindow returns a limiter allowing limit requests per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Name implements Policy.
func (s *SlidingWindow) Name() string { return "rate_limit" }

// Admit records and admits the request if the origin has capacity.
func (s *SlidingWindow) Admit(_ context.Context, req Request) error {
	now := s.now()
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= s.window {
		s.sweep(cutoff)
		s.lastSweep = now
	}

	recent := prune(s.hits[req.Origin], cutoff)
	if len(recent) >= s.limit {
		s.hits[req.Origin] = recent
		return &RejectionError{
			Policy:     s.Name(),
			RetryAfter: recent[0].Add(s.window).Sub(now),
			Err:        ErrRateLimited,
		}
	}

	s.hits[req.Origin] = append(recent, now)
	return nil
}

// Release forgets the origin's most recent admission.
func (s *SlidingWindow) Release(_ context.Context, req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	times := s.hits[req.Origin]
	switch len(times) {
	case 0:
	case 1:
		delete(s.hits, req.Origin)
	default:
		s.hits[req.Origin] = times[:len(times)-1]
	}
}

// sweep drops origins with no admissions inside the window.
func (s *SlidingWindow) sweep(cutoff time.Time) {
	for origin, times := range s.hits {
		if recent := prune(times, cutoff); len(recent) == 0 {
			delete(s.hits, origin)
		} else {
			s.hits[origin] = recent
		}
	}
}

// prune drops admission times at or before cutoff. times is in ascending order.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}
