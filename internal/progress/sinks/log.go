package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/replica-harvester/internal/progress"
)

// LogSink writes every progress event at debug level. Useful when auditing a
// run's attempt history without a metrics backend.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Replica != "" {
			fields = append(fields, zap.String("replica", evt.Replica))
		}
		if evt.Item != "" {
			fields = append(fields, zap.String("item", evt.Item), zap.Int("attempt", evt.Attempt))
		}
		if evt.Stage == progress.StageAttemptDone {
			fields = append(fields,
				zap.Int("status", evt.StatusCode),
				zap.String("outcome", evt.Outcome),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
