package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/vitalmed/sngpc/internal/platform/db"
)

// Scanner periodically sweeps every tenant schema through the full set
// of detection passes.
type Scanner struct {
	svc      *Service
	pool     *pgxpool.Pool
	log      zerolog.Logger
	interval time.Duration
}

func NewScanner(svc *Service, pool *pgxpool.Pool, log zerolog.Logger, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scanner{svc: svc, pool: pool, log: log, interval: interval}
}

// Run sweeps immediately, then on every tick until the context ends.
func (s *Scanner) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("compliance scanner started")
	if err := s.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("compliance sweep failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("compliance scanner stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("compliance sweep failed")
			}
		}
	}
}

// Sweep runs one detection pass over every tenant. A failing tenant is
// logged and skipped so the rest of the sweep still completes.
func (s *Scanner) Sweep(ctx context.Context) error {
	tenants, err := db.ListTenantSchemas(ctx, s.pool)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	for _, tenant := range tenants {
		if err := s.sweepTenant(ctx, tenant); err != nil {
			s.log.Error().Err(err).Str("tenant_id", tenant).Msg("tenant sweep failed")
		}
	}
	return nil
}

func (s *Scanner) sweepTenant(ctx context.Context, tenantID string) error {
	tctx, release, err := db.WithTenant(ctx, s.pool, tenantID)
	if err != nil {
		return err
	}
	defer release()

	raised, err := s.svc.RunAllChecks(tctx)
	if err != nil {
		return err
	}
	s.log.Info().
		Str("tenant_id", tenantID).
		Int("alerts_raised", len(raised)).
		Msg("compliance sweep completed")
	return nil
}
