// Package clock abstracts wall-clock reads so that deadline and
// statistics logic can be tested against a synthetic "now".
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fixed always returns the same instant.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }

// At returns a Fixed clock pinned to t.
func At(t time.Time) Fixed { return Fixed{T: t} }
