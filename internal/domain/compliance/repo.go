package compliance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AlertRepository persists alerts and their lifecycle transitions.
type AlertRepository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	// ListActive returns unresolved alerts, optionally filtered by
	// severity, newest first.
	ListActive(ctx context.Context, severity *Severity, limit, offset int) ([]*Alert, int, error)
	CountOpen(ctx context.Context) (int64, error)
	// Acknowledge moves an active alert to acknowledged. Returns false
	// when the alert was not active.
	Acknowledge(ctx context.Context, id uuid.UUID, userID string, notes *string, at time.Time) (bool, error)
	// Resolve moves an active or acknowledged alert to resolved.
	// Returns false when the alert was already resolved.
	Resolve(ctx context.Context, id uuid.UUID, userID, resolution string, at time.Time) (bool, error)
}

// LedgerView is the monitor's read-only window onto the ledger. Scans
// never write through it and never hold locks across a pass.
type LedgerView interface {
	// EntriesBetween returns entries with dates in [start, end) ordered
	// by medication, date, insertion.
	EntriesBetween(ctx context.Context, start, end time.Time) ([]LedgerEntry, error)
}

// ReportStatusView exposes only what the deadline checks need: whether
// a period's report exists and its status.
type ReportStatusView interface {
	// StatusFor returns the report status for a period, or "" when no
	// report exists.
	StatusFor(ctx context.Context, year, month int) (string, error)
}
