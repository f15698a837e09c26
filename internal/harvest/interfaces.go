package harvest

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single GET against a replica.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Selector picks the replica for the next attempt.
type Selector interface {
	Select() Replica
}

// Throttle bounds concurrent attempts per replica. Every successful Acquire must be
// paired with exactly one Release.
type Throttle interface {
	Acquire(ctx context.Context, replica Replica) error
	Release(replica Replica)
}

// Queue hands out items to workers. Dequeue returns ErrQueueDrained once no more
// items will arrive.
type Queue interface {
	Dequeue(ctx context.Context) (string, error)
}

// Dispatcher runs the per-item retry state machine.
type Dispatcher interface {
	Dispatch(ctx context.Context, item string) Result
}

// Sink receives delivered items. Append is called concurrently by every worker.
type Sink interface {
	Append(ctx context.Context, item, payload string) error
}

// Publisher pushes delivered records to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes an artifact and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
