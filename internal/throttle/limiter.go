package throttle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

// Limiter paces attempt starts per replica with a token bucket.
type Limiter struct {
	limiters map[string]*rate.Limiter
}

// NewLimiter creates one token bucket per replica.
func NewLimiter(replicas []harvest.Replica, rps float64, burst int) *Limiter {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{limiters: make(map[string]*rate.Limiter, len(replicas))}
	for _, replica := range replicas {
		l.limiters[replica.Address] = rate.NewLimiter(r, burst)
	}
	return l
}

// Wait blocks until a token is available for the replica, respecting the context.
func (l *Limiter) Wait(ctx context.Context, replica harvest.Replica) error {
	limiter, ok := l.limiters[replica.Address]
	if !ok {
		return fmt.Errorf("rate limit %s: %w", replica.Address, harvest.ErrUnknownReplica)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
