package balance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists monthly balances. The race between two concurrent
// calculations or closes for the same period is settled here, not in
// the service: CreateIfAbsent relies on the (year, month, medication)
// uniqueness constraint and the mutating calls compare-and-set on
// status.
type Repository interface {
	// CreateIfAbsent inserts the balance unless one already exists for
	// its (year, month, medication). Returns false when the row was
	// already there.
	CreateIfAbsent(ctx context.Context, b *MonthlyBalance) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*MonthlyBalance, error)
	// Get returns (nil, nil) when no balance exists for the tuple.
	Get(ctx context.Context, year, month int, medication string) (*MonthlyBalance, error)
	GetByPeriod(ctx context.Context, year, month int) ([]*MonthlyBalance, error)
	// SetPhysical records a physical count on an open balance. Returns
	// false when the balance was already closed.
	SetPhysical(ctx context.Context, id uuid.UUID, physical, discrepancy float64, reason *string) (bool, error)
	// Close transitions an open balance to closed. Returns false when
	// another caller closed it first.
	Close(ctx context.Context, id uuid.UUID, userID string, at time.Time) (bool, error)
	ListOpen(ctx context.Context) ([]*MonthlyBalance, error)
	ListWithDiscrepancies(ctx context.Context) ([]*MonthlyBalance, error)
}

// PeriodActivity is one medication's aggregated ledger movement inside
// a period.
type PeriodActivity struct {
	MedicationName     string
	ActiveIngredient   *string
	ListClassification *string
	TotalIn            float64
	TotalOut           float64
}

// LedgerSource is the reconciler's read-only view of the ledger.
type LedgerSource interface {
	// ActivityForPeriod aggregates movements per medication for
	// entry dates in [start, end).
	ActivityForPeriod(ctx context.Context, start, end time.Time) ([]PeriodActivity, error)
	// LastBalanceBefore returns the running balance of the latest entry
	// strictly before the given instant, or nil when there is none.
	LastBalanceBefore(ctx context.Context, medication string, before time.Time) (*float64, error)
}
