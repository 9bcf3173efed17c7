// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/JakeFAU/mediafetch/internal/download"
)

// Clock implements download.Clock using the wall clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc runs f on its own goroutine after d.
func (Clock) AfterFunc(d time.Duration, f func()) download.Timer {
	return time.AfterFunc(d, f)
}
