package output

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

// Delivery is the record published for every delivered item.
type Delivery struct {
	RunID       string    `json:"run_id"`
	Item        string    `json:"item"`
	Payload     string    `json:"payload"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// PublishSink forwards delivered items to a message bus.
type PublishSink struct {
	publisher harvest.Publisher
	topic     string
	runID     uuid.UUID
	clock     harvest.Clock
}

var _ harvest.Sink = (*PublishSink)(nil)

// NewPublishSink wraps publisher; every record is sent to topic.
func NewPublishSink(publisher harvest.Publisher, topic string, runID uuid.UUID, clock harvest.Clock) *PublishSink {
	return &PublishSink{publisher: publisher, topic: topic, runID: runID, clock: clock}
}

// Append publishes one Delivery.
func (s *PublishSink) Append(ctx context.Context, item, payload string) error {
	_, err := s.publisher.Publish(ctx, s.topic, Delivery{
		RunID:       s.runID.String(),
		Item:        item,
		Payload:     payload,
		DeliveredAt: s.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}
	return nil
}
