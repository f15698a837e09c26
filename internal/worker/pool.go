package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
	"github.com/JakeFAU/replica-harvester/internal/progress"
)

// Pool fans queue work out to a fixed set of workers.
type Pool struct {
	workers []*Worker
	clock   harvest.Clock
	events  progress.Emitter
	runID   [16]byte
	logger  *zap.Logger
}

// NewPool creates a Pool over prebuilt workers.
func NewPool(
	workers []*Worker,
	clock harvest.Clock,
	events progress.Emitter,
	runID [16]byte,
	logger *zap.Logger,
) *Pool {
	if events == nil {
		events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		workers: workers,
		clock:   clock,
		events:  events,
		runID:   runID,
		logger:  logger,
	}
}

// Size reports the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Run starts every worker and blocks until all of them have exited, which
// happens once the queue drains or ctx is canceled.
func (p *Pool) Run(ctx context.Context) harvest.Summary {
	start := p.clock.Now()
	p.events.Emit(progress.Event{RunID: p.runID, TS: start.UTC(), Stage: progress.StageRunStart})
	p.logger.Info("worker pool starting", zap.Int("workers", len(p.workers)))

	tallies := make([]harvest.Summary, len(p.workers))
	var wg sync.WaitGroup
	for i, w := range p.workers {
		wg.Add(1)
		go func(idx int, wk *Worker) {
			defer wg.Done()
			tallies[idx] = wk.Run(ctx)
		}(i, w)
	}
	wg.Wait()

	var total harvest.Summary
	for _, t := range tallies {
		total.Add(t)
	}
	end := p.clock.Now()
	p.events.Emit(progress.Event{
		RunID: p.runID,
		TS:    end.UTC(),
		Stage: progress.StageRunDone,
		Dur:   end.Sub(start),
	})
	p.logger.Info("worker pool drained",
		zap.Int64("items", total.Items),
		zap.Int64("delivered", total.Delivered),
		zap.Int64("exhausted", total.Exhausted),
		zap.Duration("elapsed", end.Sub(start)),
	)
	return total
}
