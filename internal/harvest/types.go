package harvest

import (
	"strings"
	"time"
)

// Replica is one interchangeable backend endpoint identified by its base address.
// The replica set is loaded once and never changes during a run.
type Replica struct {
	Address string
}

// NewReplica normalizes a base address (trimmed, no trailing slash).
func NewReplica(address string) Replica {
	return Replica{Address: strings.TrimRight(strings.TrimSpace(address), "/")}
}

// String returns the replica base address.
func (r Replica) String() string {
	return r.Address
}

// OutcomeKind classifies a single attempt.
type OutcomeKind int

// Attempt outcome kinds.
const (
	OutcomeRetryable OutcomeKind = iota
	OutcomeSuccess
	OutcomeFatal
)

// String implements fmt.Stringer for logs and metric labels.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFatal:
		return "fatal"
	default:
		return "retryable"
	}
}

// Outcome is the classified result of one attempt against one replica.
type Outcome struct {
	Kind       OutcomeKind
	Payload    string
	StatusCode int
	Reason     string
	// NotFound marks a retryable 404 so exhaustion can be reported as "no data found".
	NotFound bool
}

// ResultStatus is the terminal state of an item.
type ResultStatus string

// Terminal item states.
const (
	ResultDelivered ResultStatus = "delivered"
	ResultExhausted ResultStatus = "exhausted"
)

// Result is the terminal value produced for every dequeued item.
type Result struct {
	Item     string
	Payload  string
	Status   ResultStatus
	Attempts int
	// Fatal is set when an unrecognized status aborted the item early.
	Fatal bool
	// NotFound is set when the last observed outcome was a 404.
	NotFound bool
	Reason   string
}

// Delivered reports whether the result carries a payload for the sink.
func (r Result) Delivered() bool {
	return r.Status == ResultDelivered
}

// FetchRequest captures one network call against a replica.
type FetchRequest struct {
	Replica Replica
	Item    string
	Attempt int
}

// FetchResponse is the raw response of a replica call.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Summary aggregates terminal results for a whole run.
type Summary struct {
	Items     int64
	Delivered int64
	Exhausted int64
	Fatal     int64
	NotFound  int64
	Attempts  int64
	// Canceled counts items abandoned because the run context ended.
	Canceled int64
	// SinkErrors counts delivered items the output sink rejected.
	SinkErrors int64
}

// Add folds other into s.
func (s *Summary) Add(other Summary) {
	s.Items += other.Items
	s.Delivered += other.Delivered
	s.Exhausted += other.Exhausted
	s.Fatal += other.Fatal
	s.NotFound += other.NotFound
	s.Attempts += other.Attempts
	s.Canceled += other.Canceled
	s.SinkErrors += other.SinkErrors
}
