package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageAttemptDone   Stage = "ATTEMPT_DONE"
	StageItemDelivered Stage = "ITEM_DELIVERED"
	StageItemExhausted Stage = "ITEM_EXHAUSTED"
	StageItemFatal     Stage = "ITEM_FATAL"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported status classes. StatusNone marks attempts that never got a response.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusNone  StatusClass = "none"
	StatusOther StatusClass = "other"
)

// Event captures a single harvest milestone.
type Event struct {
	// RunID identifies the harvest run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Replica is the base address an attempt went to.
	Replica string
	// Item is the input token.
	Item string
	// Attempt is the 1-based attempt ordinal (or total attempts for item stages).
	Attempt int
	// StatusCode is the HTTP status of the attempt, 0 when none was received.
	StatusCode int
	// StatusClass groups StatusCode.
	StatusClass StatusClass
	// Outcome is the attempt classification (success, retryable, fatal).
	Outcome string
	// Dur captures attempt latency or whole-run duration.
	Dur time.Duration
	// Note carries low-volume debug context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageAttemptDone:
		if e.Replica == "" {
			return errors.New("attempt requires replica")
		}
		if e.Outcome == "" {
			return errors.New("attempt requires outcome")
		}
		if e.StatusClass == "" {
			return errors.New("attempt requires status class")
		}
	case StageItemDelivered, StageItemExhausted, StageItemFatal:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for attempt events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return StatusNone
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
