// Package dispatcher runs the per-item retry loop: select a replica, hold its
// throttle permit for one GET, classify the response and decide whether to
// retry, deliver or abort.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
	"github.com/JakeFAU/replica-harvester/internal/progress"
)

// DefaultMaxRetries is the reference attempt budget per item.
const DefaultMaxRetries = 5

// DefaultAttemptTimeout bounds a single GET.
const DefaultAttemptTimeout = 5 * time.Second

const tracerName = "github.com/JakeFAU/replica-harvester/internal/dispatcher"

// Config controls FetchDispatcher behavior.
type Config struct {
	MaxRetries     int
	AttemptTimeout time.Duration
	RunID          [16]byte
	Tracer         trace.Tracer
}

// FetchDispatcher implements harvest.Dispatcher. It is stateless across items
// and safe for concurrent use by every worker.
type FetchDispatcher struct {
	selector harvest.Selector
	throttle harvest.Throttle
	fetcher  harvest.Fetcher
	clock    harvest.Clock
	events   progress.Emitter
	cfg      Config
	logger   *zap.Logger
}

var _ harvest.Dispatcher = (*FetchDispatcher)(nil)

// New constructs a FetchDispatcher. logger receives the diagnostic lines for
// retryable and fatal attempts.
func New(
	selector harvest.Selector,
	throttle harvest.Throttle,
	fetcher harvest.Fetcher,
	clock harvest.Clock,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *FetchDispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if events == nil {
		events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FetchDispatcher{
		selector: selector,
		throttle: throttle,
		fetcher:  fetcher,
		clock:    clock,
		events:   events,
		cfg:      cfg,
		logger:   logger,
	}
}

// MaxRetries reports the effective attempt budget.
func (d *FetchDispatcher) MaxRetries() int {
	return d.cfg.MaxRetries
}

// Dispatch drives item to a terminal Result. Attempts are strictly sequential
// and start immediately after the previous one; there is no backoff.
func (d *FetchDispatcher) Dispatch(ctx context.Context, item string) harvest.Result {
	result := harvest.Result{Item: item, Status: harvest.ResultExhausted}
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Reason = fmt.Sprintf("run canceled: %v", err)
			return result
		}
		replica := d.selector.Select()
		outcome, err := d.attempt(ctx, item, replica, attempt)
		if err != nil {
			result.Reason = err.Error()
			return result
		}
		result.Attempts = attempt
		result.NotFound = outcome.NotFound
		result.Reason = outcome.Reason

		switch outcome.Kind {
		case harvest.OutcomeSuccess:
			result.Status = harvest.ResultDelivered
			result.Payload = outcome.Payload
			result.Reason = ""
			return result
		case harvest.OutcomeFatal:
			d.logger.Error("fatal response, abandoning item",
				zap.String("item", item),
				zap.String("replica", replica.Address),
				zap.Int("attempt", attempt),
				zap.Int("status_code", outcome.StatusCode),
			)
			result.Fatal = true
			return result
		default:
			d.logger.Warn("attempt failed, retrying",
				zap.String("item", item),
				zap.String("replica", replica.Address),
				zap.Int("attempt", attempt),
				zap.Int("status_code", outcome.StatusCode),
				zap.String("error", outcome.Reason),
			)
		}
	}
	return result
}

// attempt holds the replica permit for exactly one fetch. The returned error is
// non-nil only when the run context ended while waiting for a permit.
func (d *FetchDispatcher) attempt(
	ctx context.Context,
	item string,
	replica harvest.Replica,
	attempt int,
) (harvest.Outcome, error) {
	ctx, span := d.cfg.Tracer.Start(ctx, "dispatcher.attempt",
		trace.WithAttributes(
			attribute.String("harvest.item", item),
			attribute.String("harvest.replica", replica.Address),
			attribute.Int("harvest.attempt", attempt),
		),
	)
	defer span.End()

	if err := d.throttle.Acquire(ctx, replica); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire")
		return harvest.Outcome{}, fmt.Errorf("acquire %s: %w", replica.Address, err)
	}
	defer d.throttle.Release(replica)

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	start := d.clock.Now()
	resp, fetchErr := d.fetcher.Fetch(attemptCtx, harvest.FetchRequest{
		Replica: replica,
		Item:    item,
		Attempt: attempt,
	})
	elapsed := d.clock.Now().Sub(start)
	if fetchErr != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		fetchErr = fmt.Errorf("attempt timeout after %s: %w", d.cfg.AttemptTimeout, fetchErr)
	}
	outcome := Classify(resp, fetchErr)

	span.SetAttributes(
		attribute.Int("http.status_code", outcome.StatusCode),
		attribute.String("harvest.outcome", outcome.Kind.String()),
	)
	if outcome.Kind != harvest.OutcomeSuccess {
		span.SetStatus(codes.Error, outcome.Reason)
	}

	if elapsed < 0 {
		elapsed = 0
	}
	d.events.Emit(progress.Event{
		RunID:       d.cfg.RunID,
		TS:          d.clock.Now().UTC(),
		Stage:       progress.StageAttemptDone,
		Replica:     replica.Address,
		Item:        item,
		Attempt:     attempt,
		StatusCode:  outcome.StatusCode,
		StatusClass: progress.ClassifyStatus(outcome.StatusCode),
		Outcome:     outcome.Kind.String(),
		Dur:         elapsed,
		Note:        outcome.Reason,
	})
	return outcome, nil
}
