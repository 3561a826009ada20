package transmission

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vitalmed/sngpc/internal/platform/anvisa"
)

// ReportRepository persists monthly reports. The transmit race is
// settled by MarkTransmitting's compare-and-set: only one caller moves
// a report out of {generated, transmission_failed}.
type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	// Get returns (nil, nil) when no report exists for the period.
	Get(ctx context.Context, year, month int) (*Report, error)
	List(ctx context.Context, limit, offset int) ([]*Report, int, error)
	UpdateCounts(ctx context.Context, id uuid.UUID, prescriptionCount, itemCount int, generatedAt time.Time) error
	// MarkTransmitting flips a transmittable report to transmitting.
	// Returns false when another caller got there first or the report
	// is not in a transmittable state.
	MarkTransmitting(ctx context.Context, id uuid.UUID) (bool, error)
	SetStatus(ctx context.Context, id uuid.UUID, status ReportStatus) error
}

// TransmissionRepository persists individual attempts.
type TransmissionRepository interface {
	Create(ctx context.Context, t *Transmission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transmission, error)
	ListByReport(ctx context.Context, reportID uuid.UUID) ([]*Transmission, error)
	CountByReport(ctx context.Context, reportID uuid.UUID) (int, error)
	MarkInProgress(ctx context.Context, id uuid.UUID) error
	SetPayload(ctx context.Context, id uuid.UUID, hash string, size int) error
	MarkSuccessful(ctx context.Context, id uuid.UUID, protocol string, latencyMS int64, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, code, message string, latencyMS int64, at time.Time) error
	Statistics(ctx context.Context, start, end time.Time) (*Statistics, error)
}

// ReportSource is the pipeline's read-only view of the ledger, used to
// produce a period's counts and the movement lines of the XML payload.
type ReportSource interface {
	// PeriodCounts returns the number of distinct dispensed
	// prescriptions and the number of outbound ledger entries for
	// entry dates in [start, end).
	PeriodCounts(ctx context.Context, start, end time.Time) (prescriptions, items int, err error)
	MovementsForPeriod(ctx context.Context, start, end time.Time) ([]anvisa.Movement, error)
}
