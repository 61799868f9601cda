package ai

import (
	"sync"
	"time"
)

const RateWindow = time.Minute

type usage struct {
	at     time.Time
	tokens int
}

// rateLimiter enforces requests-per-minute and tokens-per-minute over a
// sliding one minute window. A zero limit disables that dimension.
type rateLimiter struct {
	rpm    int
	tpm    int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits []usage
}

func newRateLimiter(rpm, tpm int) *rateLimiter {
	return &rateLimiter{rpm: rpm, tpm: tpm, window: RateWindow, now: time.Now}
}

// Allow records a call of the given estimated size and reports whether it
// fits. The returned reason names the exhausted limit.
func (l *rateLimiter) Allow(tokens int) (bool, string) {
	if l == nil || (l.rpm <= 0 && l.tpm <= 0) {
		return true, ""
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	idx := 0
	for _, h := range l.hits {
		if h.at.After(cutoff) {
			break
		}
		idx++
	}
	if idx > 0 {
		l.hits = l.hits[idx:]
	}

	if l.rpm > 0 && len(l.hits) >= l.rpm {
		return false, "requests per minute limit reached"
	}
	if l.tpm > 0 {
		used := 0
		for _, h := range l.hits {
			used += h.tokens
		}
		// a single oversized call is allowed through on an idle window
		if used > 0 && used+tokens > l.tpm {
			return false, "tokens per minute limit reached"
		}
	}
	l.hits = append(l.hits, usage{at: now, tokens: tokens})
	return true, ""
}

// estimateTokens approximates the provider tokenizer at four characters per token.
func estimateTokens(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += len([]rune(t))
	}
	return (n + 3) / 4
}
