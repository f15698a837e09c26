// Package worker drains the item queue: each worker dispatches items one at a
// time and appends delivered payloads to the output sink.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
	"github.com/JakeFAU/replica-harvester/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	RunID [16]byte
	// MaxRetries is only used to word exhaustion diagnostics.
	MaxRetries int
}

// Worker consumes queue items until the queue drains or the run is canceled.
type Worker struct {
	queue      harvest.Queue
	dispatcher harvest.Dispatcher
	sink       harvest.Sink
	clock      harvest.Clock
	events     progress.Emitter
	cfg        Config
	logger     *zap.Logger
	diag       *zap.Logger
}

// New constructs a Worker. diag receives one line per exhausted item.
func New(
	queue harvest.Queue,
	dispatcher harvest.Dispatcher,
	sink harvest.Sink,
	clock harvest.Clock,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
	diag *zap.Logger,
) *Worker {
	if events == nil {
		events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if diag == nil {
		diag = zap.NewNop()
	}
	return &Worker{
		queue:      queue,
		dispatcher: dispatcher,
		sink:       sink,
		clock:      clock,
		events:     events,
		cfg:        cfg,
		logger:     logger,
		diag:       diag,
	}
}

// Run blocks, consuming items until the queue drains or ctx ends, and returns
// the worker's tally.
func (w *Worker) Run(ctx context.Context) harvest.Summary {
	var tally harvest.Summary
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, harvest.ErrQueueDrained) || ctx.Err() != nil {
				w.logger.Debug("worker exiting", zap.Error(err))
				return tally
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, item, &tally)
	}
}

func (w *Worker) process(ctx context.Context, item string, tally *harvest.Summary) {
	res := w.dispatcher.Dispatch(ctx, item)
	tally.Items++
	tally.Attempts += int64(res.Attempts)

	if res.Delivered() {
		if err := w.sink.Append(ctx, res.Item, res.Payload); err != nil {
			tally.SinkErrors++
			w.logger.Error("output append failed", zap.String("item", item), zap.Error(err))
			return
		}
		tally.Delivered++
		w.logger.Debug("item delivered", zap.String("item", item), zap.Int("attempts", res.Attempts))
		w.emit(progress.StageItemDelivered, res)
		return
	}

	if ctx.Err() != nil && !res.Fatal {
		tally.Canceled++
		w.logger.Debug("item abandoned on shutdown", zap.String("item", item), zap.String("reason", res.Reason))
		return
	}

	tally.Exhausted++
	switch {
	case res.Fatal:
		// The dispatcher already wrote the fatal diagnostic with the status code.
		tally.Fatal++
		w.emit(progress.StageItemFatal, res)
	case res.NotFound:
		tally.NotFound++
		w.diag.Warn(fmt.Sprintf("no data found after %d retries (404 Not Found)", res.Attempts),
			zap.String("item", item))
		w.emit(progress.StageItemExhausted, res)
	default:
		w.diag.Warn(fmt.Sprintf("failed to fetch after %d retries", res.Attempts),
			zap.String("item", item),
			zap.String("error", res.Reason),
		)
		w.emit(progress.StageItemExhausted, res)
	}
}

func (w *Worker) emit(stage progress.Stage, res harvest.Result) {
	w.events.Emit(progress.Event{
		RunID:   w.cfg.RunID,
		TS:      w.clock.Now().UTC(),
		Stage:   stage,
		Item:    res.Item,
		Attempt: res.Attempts,
		Note:    res.Reason,
	})
}
