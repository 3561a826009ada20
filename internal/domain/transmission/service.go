package transmission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitalmed/sngpc/internal/domain/balance"
	"github.com/vitalmed/sngpc/internal/platform/anvisa"
	"github.com/vitalmed/sngpc/internal/platform/clock"
	"github.com/vitalmed/sngpc/internal/platform/db"
	"github.com/vitalmed/sngpc/internal/platform/telemetry"
)

var (
	// ErrReportNotFound is returned when the report does not exist.
	ErrReportNotFound = errors.New("report not found")
	// ErrTransmissionNotFound is returned when the attempt does not exist.
	ErrTransmissionNotFound = errors.New("transmission not found")
	// ErrReportNotTransmittable is returned when the report is not in a
	// state that allows a new attempt, including losing the race against
	// a concurrent transmit.
	ErrReportNotTransmittable = errors.New("report is not in a transmittable state")
	// ErrReportAlreadyTransmitted is returned when regenerating a report
	// that already went out. Transmitted reports are immutable.
	ErrReportAlreadyTransmitted = errors.New("report was already transmitted")
	// ErrAttemptCapExceeded is returned when the report has used up its
	// transmission attempts. Manual resolution is required from here.
	ErrAttemptCapExceeded = errors.New("transmission attempt cap exceeded")
	// ErrTransmissionNotRetryable is returned when retrying an attempt
	// that did not fail.
	ErrTransmissionNotRetryable = errors.New("only failed transmissions can be retried")
)

// Options carries the injected pipeline settings.
type Options struct {
	MaxAttempts  int
	Endpoint     string
	Timeout      time.Duration
	PharmacyCNPJ string
	PharmacyName string
}

type Service struct {
	reports  ReportRepository
	attempts TransmissionRepository
	source   ReportSource
	builder  anvisa.ReportBuilder
	client   anvisa.Client
	clk      clock.Clock
	log      zerolog.Logger
	opts     Options
	tel      *telemetry.TelemetryProvider
}

func NewService(
	reports ReportRepository,
	attempts TransmissionRepository,
	source ReportSource,
	builder anvisa.ReportBuilder,
	client anvisa.Client,
	clk clock.Clock,
	log zerolog.Logger,
	opts Options,
) *Service {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Service{
		reports:  reports,
		attempts: attempts,
		source:   source,
		builder:  builder,
		client:   client,
		clk:      clk,
		log:      log,
		opts:     opts,
	}
}

// SetTelemetry attaches an optional telemetry provider to the service.
func (s *Service) SetTelemetry(tp *telemetry.TelemetryProvider) {
	s.tel = tp
}

// Now exposes the service clock so the HTTP layer derives default
// statistics windows from the same time source as the attempts.
func (s *Service) Now() time.Time {
	return s.clk.Now()
}

func (s *Service) countOutcome(outcome string) {
	if s.tel != nil {
		s.tel.TransmissionCounter(outcome)
	}
}

// GenerateReport produces the period's report row from the ledger.
// Regenerating an untransmitted period refreshes its counts; a
// transmitted period is immutable.
func (s *Service) GenerateReport(ctx context.Context, year, month int) (*Report, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("month must be 1..12, got %d", month)
	}
	if year < 2000 || year > 2100 {
		return nil, fmt.Errorf("year out of range: %d", year)
	}

	start, end := balance.PeriodBounds(year, month)
	prescriptions, items, err := s.source.PeriodCounts(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("count period activity: %w", err)
	}

	existing, err := s.reports.Get(ctx, year, month)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == ReportTransmitted || existing.Status == ReportTransmitting {
			return nil, ErrReportAlreadyTransmitted
		}
		if err := s.reports.UpdateCounts(ctx, existing.ID, prescriptions, items, s.clk.Now()); err != nil {
			return nil, fmt.Errorf("refresh report counts: %w", err)
		}
		return s.reports.GetByID(ctx, existing.ID)
	}

	r := &Report{
		Year:              year,
		Month:             month,
		GeneratedAt:       s.clk.Now(),
		PrescriptionCount: prescriptions,
		ItemCount:         items,
		Status:            ReportGenerated,
	}
	if err := s.reports.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	s.log.Info().
		Str("tenant_id", db.TenantFromContext(ctx)).
		Int("year", year).Int("month", month).
		Int("prescriptions", prescriptions).Int("items", items).
		Msg("monthly report generated")
	return r, nil
}

// TransmitReport runs one submission attempt for a report. A failed
// attempt is an expected business outcome: it is captured in the
// returned Transmission row and the report flips to
// transmission_failed, but the call itself does not error.
func (s *Service) TransmitReport(ctx context.Context, reportID uuid.UUID, userID string) (*Transmission, error) {
	r, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, ErrReportNotFound
	}
	if r.Status != ReportGenerated && r.Status != ReportTransmissionFailed {
		return nil, ErrReportNotTransmittable
	}
	n, err := s.attempts.CountByReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	if n >= s.opts.MaxAttempts {
		return nil, ErrAttemptCapExceeded
	}

	ok, err := s.reports.MarkTransmitting(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("mark report transmitting: %w", err)
	}
	if !ok {
		return nil, ErrReportNotTransmittable
	}

	t := &Transmission{
		ReportID:      reportID,
		AttemptNumber: n + 1,
		Method:        "webservice",
		Endpoint:      s.opts.Endpoint,
		Status:        StatusPending,
		InitiatedBy:   userID,
		StartedAt:     s.clk.Now(),
	}
	if err := s.attempts.Create(ctx, t); err != nil {
		// roll the report back so the next caller can try again
		s.setReportStatus(ctx, reportID, ReportTransmissionFailed)
		return nil, fmt.Errorf("create transmission: %w", err)
	}
	if err := s.attempts.MarkInProgress(ctx, t.ID); err != nil {
		return nil, fmt.Errorf("mark attempt in progress: %w", err)
	}

	s.runAttempt(ctx, r, t)
	return s.attempts.GetByID(ctx, t.ID)
}

// runAttempt builds, signs and submits the payload, absorbing every
// failure into the attempt row.
func (s *Service) runAttempt(ctx context.Context, r *Report, t *Transmission) {
	started := s.clk.Now()

	payload, err := s.buildPayload(ctx, r)
	if err != nil {
		s.finishFailed(ctx, r, t, "payload_build_failed", err, started)
		return
	}
	sum := sha256.Sum256(payload)
	if err := s.attempts.SetPayload(ctx, t.ID, hex.EncodeToString(sum[:]), len(payload)); err != nil {
		s.finishFailed(ctx, r, t, "payload_store_failed", err, started)
		return
	}

	subCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	res, err := s.client.Submit(subCtx, payload)
	latency := s.clk.Now().Sub(started).Milliseconds()
	if err != nil {
		code := "submission_failed"
		if res != nil && res.StatusCode != 0 {
			code = fmt.Sprintf("http_%d", res.StatusCode)
		}
		s.finishFailed(ctx, r, t, code, err, started)
		return
	}

	if err := s.attempts.MarkSuccessful(ctx, t.ID, res.ProtocolNumber, latency, s.clk.Now()); err != nil {
		s.log.Error().Err(err).Str("transmission_id", t.ID.String()).Msg("failed to record successful attempt")
		return
	}
	s.setReportStatus(ctx, r.ID, ReportTransmitted)
	s.countOutcome("successful")
	s.log.Info().
		Str("tenant_id", db.TenantFromContext(ctx)).
		Str("report_id", r.ID.String()).
		Int("attempt", t.AttemptNumber).
		Str("protocol", res.ProtocolNumber).
		Msg("report transmitted")
}

func (s *Service) finishFailed(ctx context.Context, r *Report, t *Transmission, code string, cause error, started time.Time) {
	latency := s.clk.Now().Sub(started).Milliseconds()
	if err := s.attempts.MarkFailed(ctx, t.ID, code, cause.Error(), latency, s.clk.Now()); err != nil {
		s.log.Error().Err(err).Str("transmission_id", t.ID.String()).Msg("failed to record failed attempt")
	}
	s.setReportStatus(ctx, r.ID, ReportTransmissionFailed)
	s.countOutcome("failed")
	s.log.Warn().
		Str("tenant_id", db.TenantFromContext(ctx)).
		Str("report_id", r.ID.String()).
		Int("attempt", t.AttemptNumber).
		Str("error_code", code).
		Err(cause).
		Msg("transmission attempt failed")
}

// setReportStatus flips the report row and logs when the flip fails. A
// report stuck in transmitting blocks further attempts, so the failure
// must be visible to the operator.
func (s *Service) setReportStatus(ctx context.Context, reportID uuid.UUID, status ReportStatus) {
	if err := s.reports.SetStatus(ctx, reportID, status); err != nil {
		s.log.Error().Err(err).
			Str("tenant_id", db.TenantFromContext(ctx)).
			Str("report_id", reportID.String()).
			Str("status", string(status)).
			Msg("failed to update report status")
	}
}

func (s *Service) buildPayload(ctx context.Context, r *Report) ([]byte, error) {
	start, end := balance.PeriodBounds(r.Year, r.Month)
	movements, err := s.source.MovementsForPeriod(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load period movements: %w", err)
	}
	return s.builder.Build(anvisa.ReportData{
		Year:         r.Year,
		Month:        r.Month,
		PharmacyCNPJ: s.opts.PharmacyCNPJ,
		PharmacyName: s.opts.PharmacyName,
		Movements:    movements,
	})
}

// RetryTransmission re-runs a failed attempt's report, keeping the
// original initiator. The attempt cap still applies.
func (s *Service) RetryTransmission(ctx context.Context, transmissionID uuid.UUID) (*Transmission, error) {
	t, err := s.attempts.GetByID(ctx, transmissionID)
	if err != nil {
		return nil, ErrTransmissionNotFound
	}
	if t.Status != StatusFailed {
		return nil, ErrTransmissionNotRetryable
	}
	return s.TransmitReport(ctx, t.ReportID, t.InitiatedBy)
}

func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*Report, error) {
	r, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, ErrReportNotFound
	}
	return r, nil
}

func (s *Service) ListReports(ctx context.Context, limit, offset int) ([]*Report, int, error) {
	return s.reports.List(ctx, limit, offset)
}

func (s *Service) GetTransmissionHistory(ctx context.Context, reportID uuid.UUID) ([]*Transmission, error) {
	if _, err := s.reports.GetByID(ctx, reportID); err != nil {
		return nil, ErrReportNotFound
	}
	return s.attempts.ListByReport(ctx, reportID)
}

func (s *Service) GetStatistics(ctx context.Context, start, end time.Time) (*Statistics, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("window end precedes start")
	}
	return s.attempts.Statistics(ctx, start, end)
}
