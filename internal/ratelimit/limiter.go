// Package ratelimit implements per-session, per-capability request budgets.
package ratelimit

import (
	"sync"
	"time"
)

// Capability names a budgeted stage group.
type Capability string

const (
	// CapabilityTurn gates turn submission as a whole.
	CapabilityTurn Capability = "turn"
	// CapabilityTranscription gates audio transcription.
	CapabilityTranscription Capability = "transcription"
	// CapabilityGeneration gates teaching response generation.
	CapabilityGeneration Capability = "generation"
	// CapabilityQuiz gates quiz generation.
	CapabilityQuiz Capability = "quiz"
	// CapabilityHomework gates homework review dispatch.
	CapabilityHomework Capability = "homework"
)

// Budget is the request allowance for one capability within a sliding window.
type Budget struct {
	Limit  int
	Window time.Duration
}

// Limiter maintains a sliding-window counter per (session, capability) pair.
// Check never blocks. Counter state for a key is updated atomically relative
// to concurrent checks for the same key.
type Limiter struct {
	mu       sync.Mutex
	budgets  map[Capability]Budget
	requests map[string][]time.Time
	done     chan struct{}

	now func() time.Time // overridable in tests
}

// New creates a limiter with the given capability budgets and starts the
// background eviction goroutine. Capabilities without a budget are unlimited.
func New(budgets map[Capability]Budget) *Limiter {
	l := &Limiter{
		budgets:  budgets,
		requests: make(map[string][]time.Time),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	l.startEviction()
	return l
}

func key(sessionID string, capability Capability) string {
	return sessionID + ":" + string(capability)
}

// Check records a request against the (session, capability) budget. It
// returns (true, 0) when allowed, or (false, retryAfter) when the budget is
// exhausted, where retryAfter is the wait until the oldest in-window request
// leaves the window.
func (l *Limiter) Check(sessionID string, capability Capability) (bool, time.Duration) {
	budget, ok := l.budgets[capability]
	if !ok || budget.Limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(sessionID, capability)
	now := l.now()
	cutoff := now.Add(-budget.Window)

	var recent []time.Time
	for _, t := range l.requests[k] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= budget.Limit {
		l.requests[k] = recent
		retryAfter := recent[0].Sub(cutoff)
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		return false, retryAfter
	}

	l.requests[k] = append(recent, now)
	return true, 0
}

// startEviction runs a background goroutine that periodically removes
// expired keys from the requests map, preventing unbounded memory growth.
func (l *Limiter) startEviction() {
	window := time.Minute
	for _, b := range l.budgets {
		if b.Window > window {
			window = b.Window
		}
	}

	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case <-ticker.C:
				l.mu.Lock()
				cutoff := l.now().Add(-window)
				for k, times := range l.requests {
					var fresh []time.Time
					for _, t := range times {
						if t.After(cutoff) {
							fresh = append(fresh, t)
						}
					}
					if len(fresh) == 0 {
						delete(l.requests, k)
					} else {
						l.requests[k] = fresh
					}
				}
				l.mu.Unlock()
			}
		}
	}()
}

// Close stops the background eviction goroutine.
func (l *Limiter) Close() {
	close(l.done)
}
