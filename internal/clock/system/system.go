// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

// Clock implements harvest.Clock using time.Now in UTC.
type Clock struct{}

var _ harvest.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time. The monotonic reading is kept so that
// attempt durations computed from two calls stay accurate.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
