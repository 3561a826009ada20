// Package compliance implements the monitor that scans the ledger and
// report tables for missed deadlines, balance-formula violations and
// statistically unusual movements, raising actionable alerts.
package compliance

import (
	"time"

	"github.com/google/uuid"
)

// AlertType classifies what a detection pass found.
type AlertType string

const (
	AlertDeadlineApproaching AlertType = "deadline_approaching"
	AlertDeadlineOverdue     AlertType = "deadline_overdue"
	AlertMissingReport       AlertType = "missing_report"
	AlertNegativeBalance     AlertType = "negative_balance"
	AlertInvalidBalance      AlertType = "invalid_balance"
	AlertExcessiveDispensing AlertType = "excessive_dispensing"
	AlertUnusualMovement     AlertType = "unusual_movement"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the alert lifecycle state. Resolved is terminal.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert is one actionable finding. Detection passes are not
// deduplicated: a persisting condition produces a fresh alert per scan.
type Alert struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	Type             AlertType   `db:"type" json:"type"`
	Severity         Severity    `db:"severity" json:"severity"`
	Status           AlertStatus `db:"status" json:"status"`
	Title            string      `db:"title" json:"title"`
	Description      string      `db:"description" json:"description"`
	ReportYear       *int        `db:"report_year" json:"report_year,omitempty"`
	ReportMonth      *int        `db:"report_month" json:"report_month,omitempty"`
	RegistryEntryID  *uuid.UUID  `db:"registry_entry_id" json:"registry_entry_id,omitempty"`
	MedicationName   *string     `db:"medication_name" json:"medication_name,omitempty"`
	AcknowledgedBy   *string     `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time  `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgeNotes *string     `db:"acknowledge_notes" json:"acknowledge_notes,omitempty"`
	ResolvedBy       *string     `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time  `db:"resolved_at" json:"resolved_at,omitempty"`
	Resolution       *string     `db:"resolution" json:"resolution,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
}

// LedgerEntry is the monitor's read-only projection of one ledger row.
type LedgerEntry struct {
	ID             uuid.UUID
	EntryDate      time.Time
	MedicationName string
	QuantityIn     float64
	QuantityOut    float64
	Balance        float64
}
