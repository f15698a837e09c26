// Package selector implements replica selection strategies.
package selector

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

// Strategy names accepted by New.
const (
	StrategyRandom     = "random"
	StrategyRoundRobin = "round_robin"
)

// New builds the named strategy over a fixed replica set. A zero seed picks a
// time-based seed for the random strategy.
func New(strategy string, replicas []harvest.Replica, seed uint64) (harvest.Selector, error) {
	switch strategy {
	case "", StrategyRandom:
		return NewRandom(replicas, seed)
	case StrategyRoundRobin:
		return NewRoundRobin(replicas)
	default:
		return nil, fmt.Errorf("unknown selector strategy %q", strategy)
	}
}

// Random picks uniformly over the full replica set, independent of load.
type Random struct {
	replicas []harvest.Replica
	mu       sync.Mutex
	rng      *rand.Rand
}

// NewRandom returns a seeded uniform selector.
func NewRandom(replicas []harvest.Replica, seed uint64) (*Random, error) {
	if len(replicas) == 0 {
		return nil, harvest.ErrNoReplicas
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Random{
		replicas: append([]harvest.Replica(nil), replicas...),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Select returns a uniformly random replica.
func (s *Random) Select() harvest.Replica {
	s.mu.Lock()
	i := s.rng.IntN(len(s.replicas))
	s.mu.Unlock()
	return s.replicas[i]
}

// RoundRobin cycles through the replica set; consecutive attempts of one item
// land on different replicas whenever more than one exists.
type RoundRobin struct {
	replicas []harvest.Replica
	next     atomic.Uint64
}

// NewRoundRobin returns a round-robin selector.
func NewRoundRobin(replicas []harvest.Replica) (*RoundRobin, error) {
	if len(replicas) == 0 {
		return nil, harvest.ErrNoReplicas
	}
	return &RoundRobin{replicas: append([]harvest.Replica(nil), replicas...)}, nil
}

// Select returns the next replica in order.
func (s *RoundRobin) Select() harvest.Replica {
	n := s.next.Add(1) - 1
	return s.replicas[n%uint64(len(s.replicas))]
}
