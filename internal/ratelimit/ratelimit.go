// Package ratelimit provides per-key request limiting for the HTTP API.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter decides whether a request for key may proceed. When it may not,
// retryAfter is how long until the oldest counted request leaves the window.
type Limiter interface {
	Allow(key string) (ok bool, retryAfter time.Duration)
}

// DefaultPruneEvery is how many Allow calls pass between sweeps of idle keys.
const DefaultPruneEvery = 1024

// SlidingWindow allows at most max requests per key within any window-long
// interval. State lives in the instance, so each server gets its own. Keys with
// no request inside the window are swept every pruneEvery calls to Allow.
type SlidingWindow struct {
	mu         sync.Mutex
	max        int
	window     time.Duration
	now        func() time.Time
	hits       map[string][]time.Time
	pruneEvery int
	calls      int
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) { s.now = now }
}

// WithPruneEvery sets how many Allow calls pass between sweeps of idle keys.
func WithPruneEvery(n int) Option {
	return func(s *SlidingWindow) {
		if n > 0 {
			s.pruneEvery = n
		}
	}
}

// NewSlidingWindow returns a limiter allowing max requests per window per key.
func NewSlidingWindow(max int, window time.Duration, opts ...Option) *SlidingWindow {
	s := &SlidingWindow{
		max:        max,
		window:     window,
		now:        time.Now,
		hits:       make(map[string][]time.Time),
		pruneEvery: DefaultPruneEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow records the request if it fits in the window.
func (s *SlidingWindow) Allow(key string) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)
	s.calls++
	if s.calls >= s.pruneEvery {
		s.calls = 0
		s.prune(cutoff)
	}
	hits := s.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]

	if len(hits) >= s.max {
		s.hits[key] = hits
		return false, hits[0].Sub(cutoff)
	}
	s.hits[key] = append(hits, now)
	return true, 0
}

// Prune drops keys with no requests inside the window.
func (s *SlidingWindow) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(s.now().Add(-s.window))
}

func (s *SlidingWindow) prune(cutoff time.Time) {
	for key, hits := range s.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(s.hits, key)
		}
	}
}

// Keys returns the number of tracked keys.
func (s *SlidingWindow) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

// Unlimited allows every request.
type Unlimited struct{}

// Allow always returns true.
func (Unlimited) Allow(string) (bool, time.Duration) { return true, 0 }
