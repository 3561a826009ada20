package compliance

import (
	"context"
	"errors"
	"fmt"
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

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) AlertRepository {
	return &alertRepoPG{pool: pool}
}

const alertCols = `id, type, severity, status, title, description,
	report_year, report_month, registry_entry_id, medication_name,
	acknowledged_by, acknowledged_at, acknowledge_notes,
	resolved_by, resolved_at, resolution, created_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.Status, &a.Title, &a.Description,
		&a.ReportYear, &a.ReportMonth, &a.RegistryEntryID, &a.MedicationName,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.AcknowledgeNotes,
		&a.ResolvedBy, &a.ResolvedAt, &a.Resolution, &a.CreatedAt)
	return &a, err
}

func (r *alertRepoPG) Create(ctx context.Context, a *Alert) error {
	a.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO compliance_alert (id, type, severity, status, title, description,
			report_year, report_month, registry_entry_id, medication_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.Type, a.Severity, a.Status, a.Title, a.Description,
		a.ReportYear, a.ReportMonth, a.RegistryEntryID, a.MedicationName)
	return err
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return scanAlert(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+alertCols+` FROM compliance_alert WHERE id = $1`, id))
}

func (r *alertRepoPG) ListActive(ctx context.Context, severity *Severity, limit, offset int) ([]*Alert, int, error) {
	where := `status <> 'resolved'`
	args := []interface{}{}
	if severity != nil {
		where += ` AND severity = $1`
		args = append(args, *severity)
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM compliance_alert WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM compliance_alert WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		alertCols, where, n+1, n+2)
	args = append(args, limit, offset)
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *alertRepoPG) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM compliance_alert WHERE status <> 'resolved'`).Scan(&n)
	return n, err
}

func (r *alertRepoPG) Acknowledge(ctx context.Context, id uuid.UUID, userID string, notes *string, at time.Time) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE compliance_alert
		SET status = 'acknowledged', acknowledged_by = $2, acknowledged_at = $3, acknowledge_notes = $4
		WHERE id = $1 AND status = 'active'`, id, userID, at, notes)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *alertRepoPG) Resolve(ctx context.Context, id uuid.UUID, userID, resolution string, at time.Time) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE compliance_alert
		SET status = 'resolved', resolved_by = $2, resolved_at = $3, resolution = $4
		WHERE id = $1 AND status IN ('active', 'acknowledged')`, id, userID, at, resolution)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ledgerViewPG reads the registry table owned by the registry package.
type ledgerViewPG struct{ pool *pgxpool.Pool }

func NewLedgerViewPG(pool *pgxpool.Pool) LedgerView {
	return &ledgerViewPG{pool: pool}
}

func (r *ledgerViewPG) EntriesBetween(ctx context.Context, start, end time.Time) ([]LedgerEntry, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, entry_date, medication_name, quantity_in, quantity_out, balance
		FROM registry_entry
		WHERE entry_date >= $1 AND entry_date < $2
		ORDER BY medication_name, entry_date, created_at`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.EntryDate, &e.MedicationName,
			&e.QuantityIn, &e.QuantityOut, &e.Balance); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// reportStatusViewPG reads the report table owned by the transmission
// package.
type reportStatusViewPG struct{ pool *pgxpool.Pool }

func NewReportStatusViewPG(pool *pgxpool.Pool) ReportStatusView {
	return &reportStatusViewPG{pool: pool}
}

func (r *reportStatusViewPG) StatusFor(ctx context.Context, year, month int) (string, error) {
	var status string
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT status FROM sngpc_report WHERE year = $1 AND month = $2`, year, month).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return status, nil
}
