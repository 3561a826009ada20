// Package transmission implements the report submission pipeline: it
// turns a period's ledger into a monthly report row, builds and signs
// the payload, and submits it to ANVISA with a bounded number of
// recorded attempts.
package transmission

import (
	"time"

	"github.com/google/uuid"
)

// ReportStatus is the lifecycle state of a monthly report.
type ReportStatus string

const (
	ReportGenerated          ReportStatus = "generated"
	ReportTransmitting       ReportStatus = "transmitting"
	ReportTransmitted        ReportStatus = "transmitted"
	ReportTransmissionFailed ReportStatus = "transmission_failed"
)

// Report is a period's submission unit, unique per (year, month)
// within a tenant schema. Once transmitted it is immutable.
type Report struct {
	ID                uuid.UUID    `db:"id" json:"id"`
	Year              int          `db:"year" json:"year"`
	Month             int          `db:"month" json:"month"`
	GeneratedAt       time.Time    `db:"generated_at" json:"generated_at"`
	PrescriptionCount int          `db:"prescription_count" json:"prescription_count"`
	ItemCount         int          `db:"item_count" json:"item_count"`
	Status            ReportStatus `db:"status" json:"status"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

// Status is the lifecycle state of a single transmission attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

// Transmission records one submission attempt. Attempts never mutate
// once finished; a retry creates a new row with the next attempt
// number, and (report_id, attempt_number) is unique.
type Transmission struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ReportID       uuid.UUID  `db:"report_id" json:"report_id"`
	AttemptNumber  int        `db:"attempt_number" json:"attempt_number"`
	Method         string     `db:"method" json:"method"`
	Endpoint       string     `db:"endpoint" json:"endpoint"`
	PayloadHash    *string    `db:"payload_hash" json:"payload_hash,omitempty"`
	PayloadSize    *int       `db:"payload_size" json:"payload_size,omitempty"`
	Status         Status     `db:"status" json:"status"`
	ProtocolNumber *string    `db:"protocol_number" json:"protocol_number,omitempty"`
	ErrorCode      *string    `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage   *string    `db:"error_message" json:"error_message,omitempty"`
	LatencyMS      *int64     `db:"latency_ms" json:"latency_ms,omitempty"`
	InitiatedBy    string     `db:"initiated_by" json:"initiated_by"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Statistics aggregates transmission outcomes over a window.
type Statistics struct {
	TotalAttempts int     `json:"total_attempts"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
}
