package compliance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitalmed/sngpc/internal/domain/balance"
	"github.com/vitalmed/sngpc/internal/platform/clock"
	"github.com/vitalmed/sngpc/internal/platform/db"
	"github.com/vitalmed/sngpc/internal/platform/telemetry"
)

var (
	// ErrAlertNotFound is returned when the alert does not exist.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrAlertNotActive is returned when acknowledging an alert that
	// already moved past active.
	ErrAlertNotActive = errors.New("alert is not active")
	// ErrAlertResolved is returned when resolving an already resolved
	// alert.
	ErrAlertResolved = errors.New("alert is already resolved")
)

// Thresholds carries the injected detection constants.
type Thresholds struct {
	// DeadlineDay is the day of the following month by which a period's
	// report must be transmitted.
	DeadlineDay int
	// WarningDays is how many days before the deadline the approaching
	// check starts firing; within ErrorDays the severity escalates.
	WarningDays int
	ErrorDays   int
	// OutboundMultiplier flags a single dispense exceeding that many
	// times the medication's average outbound quantity in the window.
	OutboundMultiplier float64
	// InboundMultiplier flags a stock receipt exceeding that many times
	// the window's total dispensed quantity.
	InboundMultiplier float64
	// BalanceTolerance absorbs float rounding when re-checking the
	// running-balance formula.
	BalanceTolerance float64
}

// DefaultThresholds mirrors the regulatory defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DeadlineDay:        15,
		WarningDays:        5,
		ErrorDays:          2,
		OutboundMultiplier: 5,
		InboundMultiplier:  2,
		BalanceTolerance:   0.01,
	}
}

type Service struct {
	alerts  AlertRepository
	ledger  LedgerView
	reports ReportStatusView
	clk     clock.Clock
	log     zerolog.Logger
	th      Thresholds
	tel     *telemetry.TelemetryProvider
}

func NewService(alerts AlertRepository, ledger LedgerView, reports ReportStatusView, clk clock.Clock, log zerolog.Logger, th Thresholds) *Service {
	if th.DeadlineDay == 0 {
		th = DefaultThresholds()
	}
	return &Service{alerts: alerts, ledger: ledger, reports: reports, clk: clk, log: log, th: th}
}

// SetTelemetry attaches an optional telemetry provider to the service.
func (s *Service) SetTelemetry(tp *telemetry.TelemetryProvider) {
	s.tel = tp
}

func (s *Service) raise(ctx context.Context, a *Alert) (*Alert, error) {
	a.Status = AlertActive
	if err := s.alerts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	if s.tel != nil {
		s.tel.OperationCounter("compliance", "alert_"+string(a.Severity))
	}
	s.log.Warn().
		Str("tenant_id", db.TenantFromContext(ctx)).
		Str("alert_type", string(a.Type)).
		Str("severity", string(a.Severity)).
		Str("title", a.Title).
		Msg("compliance alert raised")
	return a, nil
}

// transmitted is the report status that satisfies the deadline checks.
const transmittedStatus = "transmitted"

// CheckApproachingDeadlines looks at the current and two prior periods
// and raises an alert for each one whose deadline falls inside the
// warning window without a transmitted report.
func (s *Service) CheckApproachingDeadlines(ctx context.Context) ([]*Alert, error) {
	now := s.clk.Now()
	year, month := now.Year(), int(now.Month())

	var raised []*Alert
	for i := 0; i < 3; i++ {
		deadline := balance.ReconciliationDeadline(year, month, s.th.DeadlineDay)
		daysLeft := deadline.Sub(now).Hours() / 24
		if daysLeft > 0 && daysLeft <= float64(s.th.WarningDays) {
			status, err := s.reports.StatusFor(ctx, year, month)
			if err != nil {
				return nil, fmt.Errorf("load report status: %w", err)
			}
			if status != transmittedStatus {
				severity := SeverityWarning
				if daysLeft <= float64(s.th.ErrorDays) {
					severity = SeverityError
				}
				a, err := s.raise(ctx, &Alert{
					Type:        AlertDeadlineApproaching,
					Severity:    severity,
					Title:       fmt.Sprintf("SNGPC deadline approaching for %02d/%d", month, year),
					Description: fmt.Sprintf("the report for %02d/%d must be transmitted by %s", month, year, deadline.Format("2006-01-02")),
					ReportYear:  &year,
					ReportMonth: &month,
				})
				if err != nil {
					return nil, err
				}
				raised = append(raised, a)
			}
		}
		year, month = balance.PreviousPeriod(year, month)
	}
	return raised, nil
}

// CheckOverdueReports scans the trailing 12 periods for deadlines that
// already passed without a transmitted report.
func (s *Service) CheckOverdueReports(ctx context.Context) ([]*Alert, error) {
	now := s.clk.Now()
	year, month := now.Year(), int(now.Month())

	var raised []*Alert
	for i := 0; i < 12; i++ {
		deadline := balance.ReconciliationDeadline(year, month, s.th.DeadlineDay)
		if deadline.Before(now) {
			status, err := s.reports.StatusFor(ctx, year, month)
			if err != nil {
				return nil, fmt.Errorf("load report status: %w", err)
			}
			if status == "" {
				a, err := s.raise(ctx, &Alert{
					Type:        AlertMissingReport,
					Severity:    SeverityCritical,
					Title:       fmt.Sprintf("no SNGPC report for %02d/%d", month, year),
					Description: fmt.Sprintf("the deadline %s passed and no report was generated for the period", deadline.Format("2006-01-02")),
					ReportYear:  &year,
					ReportMonth: &month,
				})
				if err != nil {
					return nil, err
				}
				raised = append(raised, a)
			} else if status != transmittedStatus {
				a, err := s.raise(ctx, &Alert{
					Type:        AlertDeadlineOverdue,
					Severity:    SeverityCritical,
					Title:       fmt.Sprintf("SNGPC report for %02d/%d is overdue", month, year),
					Description: fmt.Sprintf("the deadline %s passed and the period's report was never transmitted (status %s)", deadline.Format("2006-01-02"), status),
					ReportYear:  &year,
					ReportMonth: &month,
				})
				if err != nil {
					return nil, err
				}
				raised = append(raised, a)
			}
		}
		year, month = balance.PreviousPeriod(year, month)
	}
	return raised, nil
}

// ValidateCompliance re-checks the current month's ledger: negative
// balances and violations of the running-balance formula.
func (s *Service) ValidateCompliance(ctx context.Context) ([]*Alert, error) {
	now := s.clk.Now()
	start, end := balance.PeriodBounds(now.Year(), int(now.Month()))
	entries, err := s.ledger.EntriesBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load period entries: %w", err)
	}

	var raised []*Alert
	for _, e := range entries {
		if e.Balance < 0 {
			e := e
			a, err := s.raise(ctx, &Alert{
				Type:            AlertNegativeBalance,
				Severity:        SeverityCritical,
				Title:           fmt.Sprintf("negative balance for %s", e.MedicationName),
				Description:     fmt.Sprintf("the entry of %s left a balance of %v", e.EntryDate.Format("2006-01-02"), e.Balance),
				RegistryEntryID: &e.ID,
				MedicationName:  &e.MedicationName,
			})
			if err != nil {
				return nil, err
			}
			raised = append(raised, a)
		}
	}

	for name, group := range groupByMedication(entries) {
		for i := 1; i < len(group); i++ {
			expected := group[i-1].Balance + group[i].QuantityIn - group[i].QuantityOut
			if math.Abs(group[i].Balance-expected) > s.th.BalanceTolerance {
				name := name
				e := group[i]
				a, err := s.raise(ctx, &Alert{
					Type:            AlertInvalidBalance,
					Severity:        SeverityError,
					Title:           fmt.Sprintf("balance formula violation for %s", name),
					Description:     fmt.Sprintf("entry of %s carries balance %v, expected %v", e.EntryDate.Format("2006-01-02"), e.Balance, expected),
					RegistryEntryID: &e.ID,
					MedicationName:  &name,
				})
				if err != nil {
					return nil, err
				}
				raised = append(raised, a)
			}
		}
	}
	return raised, nil
}

// DetectAnomalies flags statistically unusual movements in the window:
// a dispense far above the medication's average outbound quantity, or
// a stock receipt far above the window's total dispensed quantity.
func (s *Service) DetectAnomalies(ctx context.Context, start, end time.Time) ([]*Alert, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("window end precedes start")
	}
	entries, err := s.ledger.EntriesBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load window entries: %w", err)
	}

	var raised []*Alert
	for name, group := range groupByMedication(entries) {
		var totalOut float64
		var outCount int
		for _, e := range group {
			if e.QuantityOut > 0 {
				totalOut += e.QuantityOut
				outCount++
			}
		}

		for _, e := range group {
			// An entry is compared against the average of the other
			// dispenses so a single spike cannot hide inside its own
			// average.
			if e.QuantityOut > 0 && outCount > 1 {
				avg := (totalOut - e.QuantityOut) / float64(outCount-1)
				if avg > 0 && e.QuantityOut > s.th.OutboundMultiplier*avg {
					name := name
					e := e
					a, err := s.raise(ctx, &Alert{
						Type:            AlertExcessiveDispensing,
						Severity:        SeverityWarning,
						Title:           fmt.Sprintf("excessive dispensing of %s", name),
						Description:     fmt.Sprintf("a dispense of %v on %s exceeds %vx the average of %v", e.QuantityOut, e.EntryDate.Format("2006-01-02"), s.th.OutboundMultiplier, avg),
						RegistryEntryID: &e.ID,
						MedicationName:  &name,
					})
					if err != nil {
						return nil, err
					}
					raised = append(raised, a)
				}
			}
			if e.QuantityIn > 0 && totalOut > 0 && e.QuantityIn > s.th.InboundMultiplier*totalOut {
				name := name
				e := e
				a, err := s.raise(ctx, &Alert{
					Type:            AlertUnusualMovement,
					Severity:        SeverityInfo,
					Title:           fmt.Sprintf("unusually large stock entry of %s", name),
					Description:     fmt.Sprintf("a receipt of %v on %s exceeds %vx the window's dispensed total of %v", e.QuantityIn, e.EntryDate.Format("2006-01-02"), s.th.InboundMultiplier, totalOut),
					RegistryEntryID: &e.ID,
					MedicationName:  &name,
				})
				if err != nil {
					return nil, err
				}
				raised = append(raised, a)
			}
		}
	}
	return raised, nil
}

func groupByMedication(entries []LedgerEntry) map[string][]LedgerEntry {
	groups := make(map[string][]LedgerEntry)
	for _, e := range entries {
		groups[e.MedicationName] = append(groups[e.MedicationName], e)
	}
	return groups
}

// -- Alert lifecycle --

func (s *Service) GetActiveAlerts(ctx context.Context, severity *Severity, limit, offset int) ([]*Alert, int, error) {
	return s.alerts.ListActive(ctx, severity, limit, offset)
}

func (s *Service) AcknowledgeAlert(ctx context.Context, id uuid.UUID, userID string, notes *string) (*Alert, error) {
	if _, err := s.alerts.GetByID(ctx, id); err != nil {
		return nil, ErrAlertNotFound
	}
	ok, err := s.alerts.Acknowledge(ctx, id, userID, notes, s.clk.Now())
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}
	if !ok {
		return nil, ErrAlertNotActive
	}
	return s.alerts.GetByID(ctx, id)
}

func (s *Service) ResolveAlert(ctx context.Context, id uuid.UUID, userID, resolution string) (*Alert, error) {
	if resolution == "" {
		return nil, fmt.Errorf("resolution text is required")
	}
	if _, err := s.alerts.GetByID(ctx, id); err != nil {
		return nil, ErrAlertNotFound
	}
	ok, err := s.alerts.Resolve(ctx, id, userID, resolution, s.clk.Now())
	if err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}
	if !ok {
		return nil, ErrAlertResolved
	}
	return s.alerts.GetByID(ctx, id)
}

// RunAllChecks performs one full detection sweep. Anomaly detection
// covers the trailing 30 days.
func (s *Service) RunAllChecks(ctx context.Context) ([]*Alert, error) {
	var raised []*Alert
	approaching, err := s.CheckApproachingDeadlines(ctx)
	if err != nil {
		return raised, err
	}
	raised = append(raised, approaching...)

	overdue, err := s.CheckOverdueReports(ctx)
	if err != nil {
		return raised, err
	}
	raised = append(raised, overdue...)

	invalid, err := s.ValidateCompliance(ctx)
	if err != nil {
		return raised, err
	}
	raised = append(raised, invalid...)

	now := s.clk.Now()
	anomalies, err := s.DetectAnomalies(ctx, now.AddDate(0, 0, -30), now)
	if err != nil {
		return raised, err
	}
	raised = append(raised, anomalies...)

	if s.tel != nil {
		if open, err := s.alerts.CountOpen(ctx); err == nil {
			s.tel.HealthMetrics().SetOpenAlertsTotal(open)
		}
	}
	return raised, nil
}
