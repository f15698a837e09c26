package harvest

import "errors"

var (
	// ErrNoReplicas is returned when a run is configured without replica addresses.
	ErrNoReplicas = errors.New("no replica addresses configured")
	// ErrQueueDrained signals that the shared queue is empty and closed.
	ErrQueueDrained = errors.New("queue drained")
	// ErrMalformedPayload marks a 200 response whose body lacks a string "information" field.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrSinkClosed is returned by sinks after Close.
	ErrSinkClosed = errors.New("sink closed")
	// ErrUnknownReplica is returned by throttles for addresses outside the run's set.
	ErrUnknownReplica = errors.New("unknown replica")
)
