package balance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalmed/sngpc/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type balanceRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &balanceRepoPG{pool: pool}
}

func (r *balanceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const balanceCols = `id, year, month, medication_name, active_ingredient, list_classification,
	initial_balance, total_in, total_out, calculated_final_balance,
	physical_balance, discrepancy, discrepancy_reason, status,
	closed_by, closed_at, created_at, updated_at`

func (r *balanceRepoPG) scanBalance(row pgx.Row) (*MonthlyBalance, error) {
	var b MonthlyBalance
	err := row.Scan(&b.ID, &b.Year, &b.Month, &b.MedicationName, &b.ActiveIngredient, &b.ListClassification,
		&b.InitialBalance, &b.TotalIn, &b.TotalOut, &b.CalculatedFinalBalance,
		&b.PhysicalBalance, &b.Discrepancy, &b.DiscrepancyReason, &b.Status,
		&b.ClosedBy, &b.ClosedAt, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *balanceRepoPG) CreateIfAbsent(ctx context.Context, b *MonthlyBalance) (bool, error) {
	b.ID = uuid.New()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO monthly_balance (id, year, month, medication_name, active_ingredient,
			list_classification, initial_balance, total_in, total_out,
			calculated_final_balance, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (year, month, medication_name) DO NOTHING`,
		b.ID, b.Year, b.Month, b.MedicationName, b.ActiveIngredient,
		b.ListClassification, b.InitialBalance, b.TotalIn, b.TotalOut,
		b.CalculatedFinalBalance, b.Status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *balanceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MonthlyBalance, error) {
	return r.scanBalance(r.conn(ctx).QueryRow(ctx,
		`SELECT `+balanceCols+` FROM monthly_balance WHERE id = $1`, id))
}

func (r *balanceRepoPG) Get(ctx context.Context, year, month int, medication string) (*MonthlyBalance, error) {
	b, err := r.scanBalance(r.conn(ctx).QueryRow(ctx, `
		SELECT `+balanceCols+` FROM monthly_balance
		WHERE year = $1 AND month = $2 AND medication_name = $3`, year, month, medication))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *balanceRepoPG) GetByPeriod(ctx context.Context, year, month int) ([]*MonthlyBalance, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+balanceCols+` FROM monthly_balance
		WHERE year = $1 AND month = $2
		ORDER BY medication_name`, year, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *balanceRepoPG) SetPhysical(ctx context.Context, id uuid.UUID, physical, discrepancy float64, reason *string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE monthly_balance
		SET physical_balance = $2, discrepancy = $3, discrepancy_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'open'`,
		id, physical, discrepancy, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *balanceRepoPG) Close(ctx context.Context, id uuid.UUID, userID string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE monthly_balance
		SET status = 'closed', closed_by = $2, closed_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'open'`,
		id, userID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *balanceRepoPG) ListOpen(ctx context.Context) ([]*MonthlyBalance, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+balanceCols+` FROM monthly_balance
		WHERE status = 'open'
		ORDER BY year, month, medication_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *balanceRepoPG) ListWithDiscrepancies(ctx context.Context) ([]*MonthlyBalance, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+balanceCols+` FROM monthly_balance
		WHERE discrepancy IS NOT NULL AND discrepancy <> 0
		ORDER BY year DESC, month DESC, medication_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *balanceRepoPG) collect(rows pgx.Rows) ([]*MonthlyBalance, error) {
	var items []*MonthlyBalance
	for rows.Next() {
		b, err := r.scanBalance(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

// ledgerSourcePG aggregates registry entries directly in SQL. The
// registry package owns the table; this repo only reads it.
type ledgerSourcePG struct{ pool *pgxpool.Pool }

func NewLedgerSourcePG(pool *pgxpool.Pool) LedgerSource {
	return &ledgerSourcePG{pool: pool}
}

func (r *ledgerSourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *ledgerSourcePG) ActivityForPeriod(ctx context.Context, start, end time.Time) ([]PeriodActivity, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT medication_name, MAX(active_ingredient), MAX(list_classification),
			COALESCE(SUM(quantity_in), 0), COALESCE(SUM(quantity_out), 0)
		FROM registry_entry
		WHERE entry_date >= $1 AND entry_date < $2
		GROUP BY medication_name
		ORDER BY medication_name`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PeriodActivity
	for rows.Next() {
		var a PeriodActivity
		if err := rows.Scan(&a.MedicationName, &a.ActiveIngredient, &a.ListClassification,
			&a.TotalIn, &a.TotalOut); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *ledgerSourcePG) LastBalanceBefore(ctx context.Context, medication string, before time.Time) (*float64, error) {
	var bal float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT balance FROM registry_entry
		WHERE medication_name = $1 AND entry_date < $2
		ORDER BY entry_date DESC, created_at DESC
		LIMIT 1`, medication, before).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}
