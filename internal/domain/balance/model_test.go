package balance

import (
	"testing"
	"time"
)

func TestPeriodBounds(t *testing.T) {
	start, end := PeriodBounds(2025, 7)
	if !start.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start: %v", start)
	}
	if !end.Equal(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected end: %v", end)
	}

	start, end = PeriodBounds(2025, 12)
	if start.Month() != time.December || end.Year() != 2026 || end.Month() != time.January {
		t.Errorf("december must roll into january, got %v..%v", start, end)
	}
}

func TestReconciliationDeadline(t *testing.T) {
	tests := []struct {
		year, month, day           int
		wantYear, wantMonth, wantD int
	}{
		{2025, 7, 15, 2025, 8, 15},
		{2025, 12, 15, 2026, 1, 15},
		{2025, 1, 10, 2025, 2, 10},
	}
	for _, tt := range tests {
		got := ReconciliationDeadline(tt.year, tt.month, tt.day)
		if got.Year() != tt.wantYear || int(got.Month()) != tt.wantMonth || got.Day() != tt.wantD {
			t.Errorf("ReconciliationDeadline(%d, %d, %d) = %v", tt.year, tt.month, tt.day, got)
		}
		if got.Hour() != 23 || got.Minute() != 59 {
			t.Errorf("deadline must cover the whole day, got %v", got)
		}
	}
}

func TestPreviousPeriod(t *testing.T) {
	if y, m := PreviousPeriod(2025, 7); y != 2025 || m != 6 {
		t.Errorf("got (%d, %d)", y, m)
	}
	if y, m := PreviousPeriod(2025, 1); y != 2024 || m != 12 {
		t.Errorf("january must roll into prior december, got (%d, %d)", y, m)
	}
}
