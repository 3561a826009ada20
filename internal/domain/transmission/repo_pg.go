package transmission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalmed/sngpc/internal/platform/anvisa"
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

// =========== Report Repository ===========

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository {
	return &reportRepoPG{pool: pool}
}

const reportCols = `id, year, month, generated_at, prescription_count, item_count, status, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var r Report
	err := row.Scan(&r.ID, &r.Year, &r.Month, &r.GeneratedAt, &r.PrescriptionCount,
		&r.ItemCount, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO sngpc_report (id, year, month, generated_at, prescription_count, item_count, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rep.ID, rep.Year, rep.Month, rep.GeneratedAt, rep.PrescriptionCount, rep.ItemCount, rep.Status)
	return err
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return scanReport(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+reportCols+` FROM sngpc_report WHERE id = $1`, id))
}

func (r *reportRepoPG) Get(ctx context.Context, year, month int) (*Report, error) {
	rep, err := scanReport(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+reportCols+` FROM sngpc_report WHERE year = $1 AND month = $2`, year, month))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func (r *reportRepoPG) List(ctx context.Context, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM sngpc_report`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+reportCols+` FROM sngpc_report
		ORDER BY year DESC, month DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rep)
	}
	return items, total, rows.Err()
}

func (r *reportRepoPG) UpdateCounts(ctx context.Context, id uuid.UUID, prescriptionCount, itemCount int, generatedAt time.Time) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE sngpc_report
		SET prescription_count = $2, item_count = $3, generated_at = $4,
			status = 'generated', updated_at = NOW()
		WHERE id = $1`, id, prescriptionCount, itemCount, generatedAt)
	return err
}

func (r *reportRepoPG) MarkTransmitting(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE sngpc_report
		SET status = 'transmitting', updated_at = NOW()
		WHERE id = $1 AND status IN ('generated', 'transmission_failed')`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *reportRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status ReportStatus) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE sngpc_report SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// =========== Transmission Repository ===========

type transmissionRepoPG struct{ pool *pgxpool.Pool }

func NewTransmissionRepoPG(pool *pgxpool.Pool) TransmissionRepository {
	return &transmissionRepoPG{pool: pool}
}

const transmissionCols = `id, report_id, attempt_number, method, endpoint, payload_hash,
	payload_size, status, protocol_number, error_code, error_message,
	latency_ms, initiated_by, started_at, completed_at, created_at`

func scanTransmission(row pgx.Row) (*Transmission, error) {
	var t Transmission
	err := row.Scan(&t.ID, &t.ReportID, &t.AttemptNumber, &t.Method, &t.Endpoint, &t.PayloadHash,
		&t.PayloadSize, &t.Status, &t.ProtocolNumber, &t.ErrorCode, &t.ErrorMessage,
		&t.LatencyMS, &t.InitiatedBy, &t.StartedAt, &t.CompletedAt, &t.CreatedAt)
	return &t, err
}

func (r *transmissionRepoPG) Create(ctx context.Context, t *Transmission) error {
	t.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO sngpc_transmission (id, report_id, attempt_number, method, endpoint,
			status, initiated_by, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.ReportID, t.AttemptNumber, t.Method, t.Endpoint,
		t.Status, t.InitiatedBy, t.StartedAt)
	return err
}

func (r *transmissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Transmission, error) {
	return scanTransmission(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+transmissionCols+` FROM sngpc_transmission WHERE id = $1`, id))
}

func (r *transmissionRepoPG) ListByReport(ctx context.Context, reportID uuid.UUID) ([]*Transmission, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+transmissionCols+` FROM sngpc_transmission
		WHERE report_id = $1
		ORDER BY attempt_number`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Transmission
	for rows.Next() {
		t, err := scanTransmission(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *transmissionRepoPG) CountByReport(ctx context.Context, reportID uuid.UUID) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM sngpc_transmission WHERE report_id = $1`, reportID).Scan(&n)
	return n, err
}

func (r *transmissionRepoPG) MarkInProgress(ctx context.Context, id uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE sngpc_transmission SET status = 'in_progress' WHERE id = $1`, id)
	return err
}

func (r *transmissionRepoPG) SetPayload(ctx context.Context, id uuid.UUID, hash string, size int) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE sngpc_transmission SET payload_hash = $2, payload_size = $3 WHERE id = $1`,
		id, hash, size)
	return err
}

func (r *transmissionRepoPG) MarkSuccessful(ctx context.Context, id uuid.UUID, protocol string, latencyMS int64, at time.Time) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE sngpc_transmission
		SET status = 'successful', protocol_number = $2, latency_ms = $3, completed_at = $4
		WHERE id = $1`, id, protocol, latencyMS, at)
	return err
}

func (r *transmissionRepoPG) MarkFailed(ctx context.Context, id uuid.UUID, code, message string, latencyMS int64, at time.Time) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE sngpc_transmission
		SET status = 'failed', error_code = $2, error_message = $3, latency_ms = $4, completed_at = $5
		WHERE id = $1`, id, code, message, latencyMS, at)
	return err
}

func (r *transmissionRepoPG) Statistics(ctx context.Context, start, end time.Time) (*Statistics, error) {
	var s Statistics
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'successful'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(AVG(latency_ms) FILTER (WHERE latency_ms IS NOT NULL), 0)
		FROM sngpc_transmission
		WHERE started_at >= $1 AND started_at < $2`, start, end).
		Scan(&s.TotalAttempts, &s.Successful, &s.Failed, &s.AvgLatencyMS)
	if err != nil {
		return nil, err
	}
	if s.TotalAttempts > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.TotalAttempts)
	}
	return &s, nil
}

// =========== Report Source ===========

// reportSourcePG reads the registry tables owned by the registry
// package.
type reportSourcePG struct{ pool *pgxpool.Pool }

func NewReportSourcePG(pool *pgxpool.Pool) ReportSource {
	return &reportSourcePG{pool: pool}
}

func (r *reportSourcePG) PeriodCounts(ctx context.Context, start, end time.Time) (int, int, error) {
	var prescriptions, items int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(DISTINCT document_ref) FILTER (WHERE document_type = 'prescription'),
			COUNT(*) FILTER (WHERE movement_type = 'outbound')
		FROM registry_entry
		WHERE entry_date >= $1 AND entry_date < $2`, start, end).
		Scan(&prescriptions, &items)
	return prescriptions, items, err
}

func (r *reportSourcePG) MovementsForPeriod(ctx context.Context, start, end time.Time) ([]anvisa.Movement, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT entry_date, medication_name, movement_type, quantity_in, quantity_out,
			COALESCE(pharmaceutical_form, ''), document_ref,
			COALESCE(patient_name, ''), COALESCE(prescriber_name, ''), COALESCE(prescriber_crm, '')
		FROM registry_entry
		WHERE entry_date >= $1 AND entry_date < $2
		ORDER BY entry_date, created_at`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []anvisa.Movement
	for rows.Next() {
		var (
			m            anvisa.Movement
			movementType string
			in, out      float64
		)
		if err := rows.Scan(&m.Date, &m.MedicationName, &movementType, &in, &out,
			&m.Unit, &m.DocumentNumber, &m.PatientName, &m.PrescriberName, &m.PrescriberCRM); err != nil {
			return nil, err
		}
		if movementType == "inbound" {
			m.Kind = anvisa.MovementEntrada
			m.Quantity = in
		} else {
			m.Kind = anvisa.MovementSaida
			m.Quantity = out
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
