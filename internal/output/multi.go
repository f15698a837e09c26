package output

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

// Multi writes to a primary sink and then forwards the record to secondary
// sinks. Only the primary's error is returned; secondary failures are logged and
// never retried.
type Multi struct {
	primary     harvest.Sink
	secondaries []harvest.Sink
	logger      *zap.Logger
}

var _ harvest.Sink = (*Multi)(nil)

// NewMulti builds a fan-out sink. nil secondaries are skipped.
func NewMulti(primary harvest.Sink, logger *zap.Logger, secondaries ...harvest.Sink) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]harvest.Sink, 0, len(secondaries))
	for _, s := range secondaries {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Multi{primary: primary, secondaries: kept, logger: logger}
}

// Append writes to the primary first; secondaries only see records the primary accepted.
func (m *Multi) Append(ctx context.Context, item, payload string) error {
	if err := m.primary.Append(ctx, item, payload); err != nil {
		return err
	}
	for i, s := range m.secondaries {
		if err := s.Append(ctx, item, payload); err != nil {
			m.logger.Warn("secondary sink append failed",
				zap.Int("sink", i),
				zap.String("item", item),
				zap.Error(err),
			)
		}
	}
	return nil
}
