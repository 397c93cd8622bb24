// Package ratelimit tracks recent token and request usage per provider/model
// pair in a sliding window and computes how long a caller must wait before
// issuing the next call without breaching configured RPM/TPM limits.
//
// Counters are process-local. Concurrent service instances do not share
// state; the window is an approximation treated as good enough, with the
// durable call log as the real cross-process record.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Window is the trailing interval over which usage counts against limits.
const Window = time.Minute

type event struct {
	at     time.Time
	amount int
}

type usage struct {
	tokens   []event
	requests []event
}

// Limiter maintains sliding-window usage counters keyed by provider/model.
type Limiter struct {
	mu   sync.Mutex
	keys map[string]*usage

	// now is overridable for deterministic tests.
	now func() time.Time
}

// New creates a Limiter with empty counters.
func New() *Limiter {
	return &Limiter{
		keys: make(map[string]*usage),
		now:  time.Now,
	}
}

// SetClock replaces the limiter's time source. Test use only.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// WaitForTokens returns how long the caller must wait before consuming
// estimatedTokens without pushing the trailing-window total over tpmLimit.
// A zero or negative limit means unlimited.
func (l *Limiter) WaitForTokens(provider, model string, estimatedTokens, tpmLimit int) time.Duration {
	if tpmLimit <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.usage(provider, model)
	u.tokens = l.prune(u.tokens)
	return l.wait(u.tokens, estimatedTokens, tpmLimit)
}

// WaitForRequests returns how long the caller must wait before issuing
// requestCount requests without pushing the trailing-window total over
// rpmLimit. A zero or negative limit means unlimited.
func (l *Limiter) WaitForRequests(provider, model string, requestCount, rpmLimit int) time.Duration {
	if rpmLimit <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.usage(provider, model)
	u.requests = l.prune(u.requests)
	return l.wait(u.requests, requestCount, rpmLimit)
}

// RecordUsage records token consumption against the window.
// Call only after a request has actually been issued.
func (l *Limiter) RecordUsage(provider, model string, tokens int) {
	if tokens <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.usage(provider, model)
	u.tokens = append(l.prune(u.tokens), event{at: l.now(), amount: tokens})
}

// RecordRequest records issued requests against the window.
func (l *Limiter) RecordRequest(provider, model string, count int) {
	if count <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.usage(provider, model)
	u.requests = append(l.prune(u.requests), event{at: l.now(), amount: count})
}

// WindowUsage returns the current trailing-window token and request totals.
func (l *Limiter) WindowUsage(provider, model string) (tokens, requests int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.usage(provider, model)
	u.tokens = l.prune(u.tokens)
	u.requests = l.prune(u.requests)
	return total(u.tokens), total(u.requests)
}

// OptimalBatchSize reduces candidateSize until one batch's projected usage
// (tokensPerItem per comment, parallelRequests requests) fits the remaining
// window headroom. Never returns less than 1: forward progress is preferred
// over strict window compliance for degenerate limits.
func (l *Limiter) OptimalBatchSize(
	provider, model string,
	tokensPerItem, candidateSize, tpmLimit, rpmLimit, parallelRequests int,
) int {
	if candidateSize <= 1 {
		return max(candidateSize, 1)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.usage(provider, model)
	u.tokens = l.prune(u.tokens)
	u.requests = l.prune(u.requests)

	size := candidateSize

	if tpmLimit > 0 && tokensPerItem > 0 {
		headroom := tpmLimit - total(u.tokens)
		if headroom < tokensPerItem {
			return 1
		}
		size = min(size, headroom/tokensPerItem)
	}

	if rpmLimit > 0 && parallelRequests > 0 {
		if total(u.requests)+parallelRequests > rpmLimit {
			return 1
		}
	}

	return max(size, 1)
}

func (l *Limiter) usage(provider, model string) *usage {
	key := fmt.Sprintf("%s/%s", provider, model)
	u, ok := l.keys[key]
	if !ok {
		u = &usage{}
		l.keys[key] = u
	}
	return u
}

func (l *Limiter) prune(events []event) []event {
	cutoff := l.now().Add(-Window)
	kept := events[:0]
	for _, e := range events {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

// wait computes how long until enough window entries expire that amount more
// can be consumed without exceeding limit. Events must already be pruned.
func (l *Limiter) wait(events []event, amount, limit int) time.Duration {
	current := total(events)
	if current+amount <= limit {
		return 0
	}

	freed := 0
	for _, e := range events {
		freed += e.amount
		if current-freed+amount <= limit {
			return e.at.Add(Window).Sub(l.now())
		}
	}

	// The request alone exceeds the limit; waiting a full window is the
	// best the caller can do.
	return Window
}

func total(events []event) int {
	n := 0
	for _, e := range events {
		n += e.amount
	}
	return n
}
