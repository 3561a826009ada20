package balance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitalmed/sngpc/internal/platform/clock"
	"github.com/vitalmed/sngpc/internal/platform/db"
	"github.com/vitalmed/sngpc/internal/platform/telemetry"
)

var (
	// ErrBalanceNotFound is returned when the balance does not exist.
	ErrBalanceNotFound = errors.New("monthly balance not found")
	// ErrBalanceClosed is returned when mutating a closed balance.
	ErrBalanceClosed = errors.New("monthly balance is closed")
)

type Service struct {
	balances    Repository
	ledger      LedgerSource
	clk         clock.Clock
	log         zerolog.Logger
	deadlineDay int
	tel         *telemetry.TelemetryProvider
}

func NewService(balances Repository, ledger LedgerSource, clk clock.Clock, log zerolog.Logger, deadlineDay int) *Service {
	return &Service{balances: balances, ledger: ledger, clk: clk, log: log, deadlineDay: deadlineDay}
}

// SetTelemetry attaches an optional telemetry provider to the service.
func (s *Service) SetTelemetry(tp *telemetry.TelemetryProvider) {
	s.tel = tp
}

func (s *Service) count(op string) {
	if s.tel != nil {
		s.tel.OperationCounter("balance", op)
	}
}

// CalculateMonthlyBalances creates an open balance for every medication
// with ledger activity in the period. Re-running is idempotent: tuples
// that already have a balance get the existing row back untouched, the
// uniqueness constraint settles concurrent callers.
func (s *Service) CalculateMonthlyBalances(ctx context.Context, year, month int) ([]*MonthlyBalance, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("month must be 1..12, got %d", month)
	}
	if year < 2000 || year > 2100 {
		return nil, fmt.Errorf("year out of range: %d", year)
	}

	start, end := PeriodBounds(year, month)
	activity, err := s.ledger.ActivityForPeriod(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("aggregate ledger activity: %w", err)
	}

	result := make([]*MonthlyBalance, 0, len(activity))
	for _, a := range activity {
		initial, err := s.initialBalance(ctx, year, month, a.MedicationName)
		if err != nil {
			return nil, err
		}
		b := &MonthlyBalance{
			Year:                   year,
			Month:                  month,
			MedicationName:         a.MedicationName,
			ActiveIngredient:       a.ActiveIngredient,
			ListClassification:     a.ListClassification,
			InitialBalance:         initial,
			TotalIn:                a.TotalIn,
			TotalOut:               a.TotalOut,
			CalculatedFinalBalance: initial + a.TotalIn - a.TotalOut,
			Status:                 StatusOpen,
		}
		created, err := s.balances.CreateIfAbsent(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("create balance for %s: %w", a.MedicationName, err)
		}
		if !created {
			existing, err := s.balances.Get(ctx, year, month, a.MedicationName)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, fmt.Errorf("balance for %s vanished after conflict", a.MedicationName)
			}
			b = existing
		}
		result = append(result, b)
	}
	s.count("calculate")
	s.log.Info().
		Str("tenant_id", db.TenantFromContext(ctx)).
		Int("year", year).Int("month", month).
		Int("medications", len(result)).
		Msg("monthly balances calculated")
	return result, nil
}

// initialBalance resolves the opening balance for a period: the prior
// month's closed balance (physical count when recorded), else the last
// ledger balance strictly before the period, else zero.
func (s *Service) initialBalance(ctx context.Context, year, month int, medication string) (float64, error) {
	py, pm := PreviousPeriod(year, month)
	prior, err := s.balances.Get(ctx, py, pm, medication)
	if err != nil {
		return 0, fmt.Errorf("load prior balance: %w", err)
	}
	if prior != nil && prior.Status == StatusClosed {
		if prior.PhysicalBalance != nil {
			return *prior.PhysicalBalance, nil
		}
		return prior.CalculatedFinalBalance, nil
	}

	start, _ := PeriodBounds(year, month)
	last, err := s.ledger.LastBalanceBefore(ctx, medication, start)
	if err != nil {
		return 0, fmt.Errorf("load last ledger balance: %w", err)
	}
	if last != nil {
		return *last, nil
	}
	return 0, nil
}

// RecordPhysicalInventory sets the counted stock on an open balance and
// recomputes the discrepancy against the calculated figure.
func (s *Service) RecordPhysicalInventory(ctx context.Context, balanceID uuid.UUID, physicalCount float64, reason *string, userID string) (*MonthlyBalance, error) {
	if physicalCount < 0 {
		return nil, fmt.Errorf("physical count must not be negative, got %v", physicalCount)
	}
	b, err := s.balances.GetByID(ctx, balanceID)
	if err != nil {
		return nil, ErrBalanceNotFound
	}
	if b.Status == StatusClosed {
		return nil, ErrBalanceClosed
	}

	discrepancy := physicalCount - b.CalculatedFinalBalance
	ok, err := s.balances.SetPhysical(ctx, balanceID, physicalCount, discrepancy, reason)
	if err != nil {
		return nil, fmt.Errorf("record physical count: %w", err)
	}
	if !ok {
		return nil, ErrBalanceClosed
	}
	s.count("physical_count")
	s.log.Info().
		Str("tenant_id", db.TenantFromContext(ctx)).
		Str("balance_id", balanceID.String()).
		Float64("physical", physicalCount).
		Float64("discrepancy", discrepancy).
		Str("user_id", userID).
		Msg("physical inventory recorded")
	return s.balances.GetByID(ctx, balanceID)
}

// Close freezes a balance. Only the caller that observes it open wins;
// everyone else gets ErrBalanceClosed.
func (s *Service) Close(ctx context.Context, balanceID uuid.UUID, userID string) (*MonthlyBalance, error) {
	if _, err := s.balances.GetByID(ctx, balanceID); err != nil {
		return nil, ErrBalanceNotFound
	}
	ok, err := s.balances.Close(ctx, balanceID, userID, s.clk.Now())
	if err != nil {
		return nil, fmt.Errorf("close balance: %w", err)
	}
	if !ok {
		return nil, ErrBalanceClosed
	}
	s.count("close")
	s.log.Info().
		Str("tenant_id", db.TenantFromContext(ctx)).
		Str("balance_id", balanceID.String()).
		Str("user_id", userID).
		Msg("monthly balance closed")
	return s.balances.GetByID(ctx, balanceID)
}

func (s *Service) GetByPeriod(ctx context.Context, year, month int) ([]*MonthlyBalance, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("month must be 1..12, got %d", month)
	}
	return s.balances.GetByPeriod(ctx, year, month)
}

// GetOverdueBalances returns open balances whose reconciliation
// deadline has already passed.
func (s *Service) GetOverdueBalances(ctx context.Context) ([]*MonthlyBalance, error) {
	open, err := s.balances.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now()
	var overdue []*MonthlyBalance
	for _, b := range open {
		if ReconciliationDeadline(b.Year, b.Month, s.deadlineDay).Before(now) {
			overdue = append(overdue, b)
		}
	}
	return overdue, nil
}

func (s *Service) GetBalancesWithDiscrepancies(ctx context.Context) ([]*MonthlyBalance, error) {
	return s.balances.ListWithDiscrepancies(ctx)
}
