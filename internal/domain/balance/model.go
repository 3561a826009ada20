// Package balance implements monthly reconciliation of the
// controlled-substance ledger: per-medication aggregates for a period,
// cross-checked against a physical count and frozen by an explicit
// close.
package balance

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a monthly balance.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// MonthlyBalance aggregates one medication's ledger activity for one
// (year, month). Unique per (year, month, medication) within a tenant
// schema; immutable once closed.
type MonthlyBalance struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	Year                   int        `db:"year" json:"year"`
	Month                  int        `db:"month" json:"month"`
	MedicationName         string     `db:"medication_name" json:"medication_name"`
	ActiveIngredient       *string    `db:"active_ingredient" json:"active_ingredient,omitempty"`
	ListClassification     *string    `db:"list_classification" json:"list_classification,omitempty"`
	InitialBalance         float64    `db:"initial_balance" json:"initial_balance"`
	TotalIn                float64    `db:"total_in" json:"total_in"`
	TotalOut               float64    `db:"total_out" json:"total_out"`
	CalculatedFinalBalance float64    `db:"calculated_final_balance" json:"calculated_final_balance"`
	PhysicalBalance        *float64   `db:"physical_balance" json:"physical_balance,omitempty"`
	Discrepancy            *float64   `db:"discrepancy" json:"discrepancy,omitempty"`
	DiscrepancyReason      *string    `db:"discrepancy_reason" json:"discrepancy_reason,omitempty"`
	Status                 Status     `db:"status" json:"status"`
	ClosedBy               *string    `db:"closed_by" json:"closed_by,omitempty"`
	ClosedAt               *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// PeriodBounds returns the UTC bounds of a calendar month, start
// inclusive and end exclusive.
func PeriodBounds(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// ReconciliationDeadline returns the last instant a period's report may
// still be submitted: the end of deadlineDay in the following month.
func ReconciliationDeadline(year, month, deadlineDay int) time.Time {
	next := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return time.Date(next.Year(), next.Month(), deadlineDay, 23, 59, 59, 0, time.UTC)
}

// PreviousPeriod returns the (year, month) immediately before the given
// period.
func PreviousPeriod(year, month int) (int, int) {
	if month == 1 {
		return year - 1, 12
	}
	return year, month - 1
}
