// Package system provides the real clock and pause implementations.
package system

import (
	"context"
	"time"
)

// Clock implements novel.Clock and novel.Pauser using the wall clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Pause blocks for d or until ctx is canceled, whichever comes first. The
// inter-chapter delay uses this so a stop request does not wait out the timer.
func (Clock) Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
