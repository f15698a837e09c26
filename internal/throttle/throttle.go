// Package throttle bounds concurrent attempts per replica.
package throttle

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

// DefaultLimit is the reference per-replica concurrency cap.
const DefaultLimit = 30

// Config controls the throttle.
type Config struct {
	// Limit is the maximum number of in-flight attempts per replica.
	Limit int
	// RPS optionally caps attempts started per second per replica (0 = unlimited).
	RPS float64
	// Burst is the token bucket burst used with RPS.
	Burst int
}

type gate struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	peak     atomic.Int64
}

// Throttle owns one semaphore per replica. The gate map is built once in New and
// only read afterwards, so lookups need no lock.
type Throttle struct {
	limit   int64
	gates   map[string]*gate
	limiter *Limiter
}

var _ harvest.Throttle = (*Throttle)(nil)

// New builds a Throttle for the fixed replica set.
func New(replicas []harvest.Replica, cfg Config) (*Throttle, error) {
	if len(replicas) == 0 {
		return nil, harvest.ErrNoReplicas
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	t := &Throttle{
		limit: int64(limit),
		gates: make(map[string]*gate, len(replicas)),
	}
	for _, r := range replicas {
		if _, ok := t.gates[r.Address]; ok {
			continue
		}
		t.gates[r.Address] = &gate{sem: semaphore.NewWeighted(int64(limit))}
	}
	if cfg.RPS > 0 {
		t.limiter = NewLimiter(replicas, cfg.RPS, cfg.Burst)
	}
	return t, nil
}

// Acquire blocks until the replica has a free permit. It only fails when ctx ends
// or the replica is not part of the run.
func (t *Throttle) Acquire(ctx context.Context, replica harvest.Replica) error {
	g, ok := t.gates[replica.Address]
	if !ok {
		return fmt.Errorf("acquire %s: %w", replica.Address, harvest.ErrUnknownReplica)
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, replica); err != nil {
			return err
		}
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire %s: %w", replica.Address, err)
	}
	n := g.inFlight.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return nil
}

// Release returns a permit taken by Acquire.
func (t *Throttle) Release(replica harvest.Replica) {
	g, ok := t.gates[replica.Address]
	if !ok {
		return
	}
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// Limit returns the per-replica cap.
func (t *Throttle) Limit() int {
	return int(t.limit)
}

// InFlight returns the number of permits currently held for the replica.
func (t *Throttle) InFlight(replica harvest.Replica) int {
	if g, ok := t.gates[replica.Address]; ok {
		return int(g.inFlight.Load())
	}
	return 0
}

// Peak returns the highest in-flight count observed for the replica.
func (t *Throttle) Peak(replica harvest.Replica) int {
	if g, ok := t.gates[replica.Address]; ok {
		return int(g.peak.Load())
	}
	return 0
}
