package clock

import (
	"testing"
	"time"
)

func TestReal_Now(t *testing.T) {
	before := time.Now()
	got := Real{}.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Fatalf("Real.Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestFixed_Now(t *testing.T) {
	instant := time.Date(2025, 7, 10, 8, 30, 0, 0, time.UTC)
	c := At(instant)

	if got := c.Now(); !got.Equal(instant) {
		t.Fatalf("Fixed.Now() = %v, want %v", got, instant)
	}
	// Repeated reads return the same instant.
	if got := c.Now(); !got.Equal(instant) {
		t.Fatalf("second Fixed.Now() = %v, want %v", got, instant)
	}
}
