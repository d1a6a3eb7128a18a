// Package ratelimit keeps page fetches polite towards each bank host.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per host.
type Limiter struct {
	mu           sync.Mutex
	perHost      map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a per-host limiter. A non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		perHost:      make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Unlimited reports whether the limiter never blocks.
func (l *Limiter) Unlimited() bool {
	return l.defaultRate == rate.Inf
}

// WaitHost blocks until a request to host is allowed or ctx is done.
func (l *Limiter) WaitHost(ctx context.Context, host string) error {
	if l.Unlimited() {
		return ctx.Err()
	}
	return l.hostLimiter(host).Wait(ctx)
}

func (l *Limiter) hostLimiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	hl, ok := l.perHost[host]
	if !ok {
		hl = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.perHost[host] = hl
	}
	return hl
}
